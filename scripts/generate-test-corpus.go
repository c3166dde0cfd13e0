//go:build ignore

// Generates a synthetic source corpus for indexing benchmarks.
// Usage: go run scripts/generate-test-corpus.go -files 500 -output testdata/bench
//
// Generated files reference symbols defined in earlier files so the
// graph builder has real cross-file call edges to extract, not just
// isolated definitions.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 500, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var nouns = []string{
	"Session", "Token", "Cache", "Queue", "Router", "Parser", "Ledger",
	"Manifest", "Cursor", "Snapshot", "Bucket", "Scheduler", "Registry",
	"Pipeline", "Replica", "Quota", "Digest", "Envelope", "Lease", "Probe",
}

var verbs = []string{
	"Open", "Close", "Flush", "Resolve", "Validate", "Rotate", "Merge",
	"Evict", "Acquire", "Release", "Encode", "Decode", "Sync", "Expire",
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}

	// Symbols defined so far, available as call targets for later files.
	var defined []string

	for i := 0; i < *numFiles; i++ {
		noun := nouns[rng.Intn(len(nouns))]
		verb := verbs[rng.Intn(len(verbs))]
		pkg := strings.ToLower(noun)
		fn := verb + noun

		var calls []string
		for n := rng.Intn(4); n > 0 && len(defined) > 0; n-- {
			calls = append(calls, defined[rng.Intn(len(defined))])
		}
		defined = append(defined, fn)

		dir := filepath.Join(*outputDir, pkg)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
			os.Exit(1)
		}
		path := filepath.Join(dir, fmt.Sprintf("%s_%04d.go", strings.ToLower(verb), i))
		if err := os.WriteFile(path, []byte(renderFile(pkg, noun, fn, calls)), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Printf("Generated %d files under %s (%d symbols)\n", *numFiles, *outputDir, len(defined))
}

func renderFile(pkg, noun, fn string, calls []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	b.WriteString("import (\n\t\"context\"\n\t\"fmt\"\n)\n\n")

	fmt.Fprintf(&b, "// %s tracks one %s and its pending work.\n", noun, strings.ToLower(noun))
	fmt.Fprintf(&b, "type %s struct {\n\tid    string\n\tstate string\n}\n\n", noun)

	fmt.Fprintf(&b, "// %s moves the %s through one lifecycle step.\n", fn, strings.ToLower(noun))
	fmt.Fprintf(&b, "func %s(ctx context.Context, s *%s) error {\n", fn, noun)
	b.WriteString("\tif err := ctx.Err(); err != nil {\n\t\treturn err\n\t}\n")
	for _, callee := range calls {
		fmt.Fprintf(&b, "\tif err := %s(ctx, s); err != nil {\n\t\treturn fmt.Errorf(\"%s: %%w\", err)\n\t}\n", callee, callee)
	}
	fmt.Fprintf(&b, "\ts.state = %q\n\treturn nil\n}\n", strings.ToLower(fn))
	return b.String()
}
