// Command forumidx builds and queries a cosine-TF-IDF inverted index over
// a stream of pre-tokenized documents. The archive downloader,
// decompressor, and linguistic tokenizer are external collaborators;
// this binary consumes their output as
// newline-delimited JSON (pkg/ingest.JSONLSource) rather than fetching or
// tokenizing anything itself.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mnohosten/forumidx/pkg/diagnostic"
	"github.com/mnohosten/forumidx/pkg/engine"
	"github.com/mnohosten/forumidx/pkg/ingest"
)

const version = "1.0.0"

const (
	modeBuild      = 1
	modeQuery      = 2
	modeBuildQuery = 3
)

func main() {
	mode := flag.Int("mode", 0, "1 = build, 2 = query existing, 3 = build then query (required)")
	start := flag.String("start", "", "first archive period (YYYY/MM), required for modes 1 and 3")
	end := flag.String("end", "", "last archive period (YYYY/MM), required for modes 1 and 3")
	dir := flag.String("dir", "./data", "working directory")
	minFreq := flag.Int("minfreq", engine.DefaultMinFrequency, "prune threshold (inclusive): terms occurring <= minfreq times total are dropped")
	num := flag.Int("num", 10, "top-K results per query")
	cores := flag.Int("cores", 1, "parallel workers for upstream archive download (consumed by the external downloader, not this binary)")
	fulltext := flag.Bool("fulltext", false, "store and return comment bodies")
	lemma := flag.Bool("lemma", false, "lemmatize tokens (consumed by the external tokenizer, not this binary)")
	progress := flag.Bool("progress", false, "progress reporting on stderr")
	force := flag.Bool("force", false, "allow a fresh build into a non-empty --dir")
	conjunctive := flag.Bool("conjunctive", false, "AND query terms instead of OR")
	input := flag.String("input", "-", "newline-delimited JSON document stream to ingest (path, or '-' for stdin); required for modes 1 and 3")
	query := flag.String("query", "", "a single query string; if omitted in query modes, queries are read one per line from stdin")
	showVersion := flag.Bool("version", false, "show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "forumidx v%s - cosine TF-IDF inverted index over forum comments\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s -mode <1|2|3> [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("forumidx v%s\n", version)
		return
	}

	if err := run(*mode, *start, *end, *dir, *minFreq, *num, *cores, *fulltext, *lemma,
		*progress, *force, *conjunctive, *input, *query); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case engine.IsFault(err, engine.KindConfiguration):
		return 2
	case engine.IsFault(err, engine.KindContractViolation):
		return 3
	default:
		return 1
	}
}

func run(mode int, start, end, dir string, minFreq, num, cores int, fulltext, lemma,
	progress, force, conjunctive bool, input, query string) error {

	if mode != modeBuild && mode != modeQuery && mode != modeBuildQuery {
		return engine.NewFault(engine.KindConfiguration, "-mode must be 1 (build), 2 (query), or 3 (build then query)", nil)
	}
	if (mode == modeBuild || mode == modeBuildQuery) && (start == "" || end == "") {
		return engine.NewFault(engine.KindConfiguration, "-start and -end are required for build modes", nil)
	}
	_ = cores
	_ = lemma

	sinkCfg := diagnostic.DefaultConfig()
	if progress {
		sinkCfg.Format = "text"
	} else {
		sinkCfg.Enabled = false
	}
	sink := diagnostic.NewSink(sinkCfg)
	defer sink.Close()

	cfg := engine.DefaultConfig(dir)
	cfg.MinFrequency = minFreq
	cfg.Sink = sink

	var builder *engine.Builder
	var evaluator *engine.Evaluator
	defer func() {
		if builder != nil && evaluator == nil {
			builder.Close()
		}
	}()

	if mode == modeBuild || mode == modeBuildQuery {
		if err := engine.ValidateForBuild(cfg, force); err != nil {
			return err
		}
		source, closeSource, err := openSource(input, fulltext)
		if err != nil {
			return engine.NewFault(engine.KindConfiguration, "open input stream", err)
		}
		defer closeSource()

		b, err := engine.NewBuilder(cfg)
		if err != nil {
			return err
		}
		builder = b
		fmt.Fprintf(os.Stderr, "building index in %s for period %s..%s\n", dir, start, end)
		if err := builder.Build(source); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "build complete: %d documents ingested, %d terms retained\n",
			builder.TotalDocumentCount(), builder.Dictionary().Count())

		if mode == modeBuild {
			return builder.Close()
		}
		evaluator = engine.NewEvaluator(builder.Store(), builder.Dictionary(), builder.TotalDocumentCount(), cfg)
	} else {
		e, err := engine.OpenEvaluator(cfg)
		if err != nil {
			return err
		}
		evaluator = e
	}
	defer evaluator.Close()

	params := engine.Params{TopK: num, Conjunctive: conjunctive, WantFulltext: fulltext}
	if query != "" {
		return runQuery(evaluator, query, params)
	}
	return runQueryLoop(evaluator, params)
}

// openSource opens the newline-delimited JSON document stream named by
// path ("-" for stdin). The returned closer is always safe to call.
func openSource(path string, fulltext bool) (ingest.Source, func() error, error) {
	_ = fulltext // fulltext presence is carried per-record by the stream, not forced here
	if path == "-" || path == "" {
		return ingest.NewJSONLSource(os.Stdin), func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return ingest.NewJSONLSource(f), f.Close, nil
}

func runQuery(e *engine.Evaluator, query string, params engine.Params) error {
	tokens := strings.Fields(query)
	resp, err := e.Evaluate(tokens, params)
	if err != nil {
		return err
	}
	printResponse(query, resp)
	return nil
}

func runQueryLoop(e *engine.Evaluator, params engine.Params) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tokens := strings.Fields(line)
		resp, err := e.Evaluate(tokens, params)
		if err != nil {
			return err
		}
		printResponse(line, resp)
	}
	return scanner.Err()
}

func printResponse(query string, resp *engine.Response) {
	for _, d := range resp.Diagnostics {
		fmt.Printf("idf(%s): %g\n", d.Term, d.IDF)
	}
	if len(resp.Results) == 0 {
		fmt.Printf("query %q: no results\n", query)
		return
	}
	for i, r := range resp.Results {
		fmt.Printf("%d. %s (%.6f)\n", i+1, r.DocumentName, r.Similarity)
		if r.Fulltext != "" {
			fmt.Printf("   %s\n", r.Fulltext)
		}
	}
}
