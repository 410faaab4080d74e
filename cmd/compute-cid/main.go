// Command compute-cid canonicalizes a JSON document and prints its
// content identifiers, optionally persisting the canonical bytes to a
// content-addressed blob store. It is a standalone diagnostic utility
// for inspecting how a file will hash before it's run through the
// submit-files pipeline.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/elephant-xyz/submit-files/internal/contentaddress"
	"github.com/elephant-xyz/submit-files/internal/store"
	"github.com/elephant-xyz/submit-files/pkg/canonical"
)

func main() {
	inPath := flag.String("in", "-", "input JSON file. Use - for stdin")
	outDir := flag.String("store", "", "optional base directory to persist the canonical bytes, keyed by CIDv0")
	flag.Parse()

	var data []byte
	var err error
	if *inPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*inPath)
	}
	if err != nil {
		log.Fatalf("reading input: %v", err)
	}

	decoded, err := canonical.DecodeNumberPreserving(data)
	if err != nil {
		log.Fatalf("parsing JSON: %v", err)
	}

	canonicalBytes, err := canonical.MarshalJSON(decoded)
	if err != nil {
		log.Fatalf("canonicalizing: %v", err)
	}

	cidV0, err := contentaddress.CIDv0(canonicalBytes)
	if err != nil {
		log.Fatalf("computing CIDv0: %v", err)
	}
	cidV1, err := contentaddress.CIDv1Raw(canonicalBytes)
	if err != nil {
		log.Fatalf("computing CIDv1: %v", err)
	}

	fmt.Printf("cidv0: %s\n", cidV0)
	fmt.Printf("cidv1-raw: %s\n", cidV1)
	fmt.Printf("canonical bytes: %d\n", len(canonicalBytes))

	if *outDir != "" {
		st := store.NewBlobStore(*outDir)
		if err := st.Put(cidV0, canonicalBytes); err != nil {
			log.Fatalf("persisting canonical bytes: %v", err)
		}
		fmt.Printf("stored at: %s\n", *outDir+"/"+cidV0)
	}
}
