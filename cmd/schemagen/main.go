// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

//go:generate go run . -o ../../pkg/repoconfig
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/testgen/app/pkg/repoconfig"
)

var outputFlag = flag.String("o", "", "output directory")

func main() {
	flag.Parse()

	if *outputFlag == "" {
		log.Fatal("output path is required")
	}

	r := &jsonschema.Reflector{
		// Every setting is optional.
		RequiredFromJSONSchemaTags: true,
	}
	if err := r.AddGoComments("github.com/testgen/app/pkg/repoconfig", "../../pkg/repoconfig"); err != nil {
		log.Fatal(err)
	}

	schema := r.Reflect(&repoconfig.Config{})
	schema.Title = repoconfig.Path
	schema.Description = "Per-repository settings for testgen."

	out, err := os.Create(filepath.Join(*outputFlag, "testgen.schema.json"))
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(schema); err != nil {
		// nolint:gocritic
		log.Fatal(err)
	}
}
