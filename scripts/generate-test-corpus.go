//go:build ignore

// Package main generates a synthetic transcript corpus and a matching
// evaluation suite for benchmarking.
// Usage:
//
//	go run scripts/generate-test-corpus.go -episodes 500 -output testdata/bench
//	sh testdata/bench/ingest.sh
//	recall benchmark --suite testdata/bench/suite.yaml
//
// Each episode mixes filler talk with one rare topic phrase, so every
// suite case has exactly one relevant document.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/recall/internal/eval"
)

var (
	numEpisodes = flag.Int("episodes", 500, "Number of episodes to generate")
	sentences   = flag.Int("sentences", 120, "Sentences per episode")
	numCases    = flag.Int("cases", 50, "Suite cases to generate")
	outputDir   = flag.String("output", "testdata/bench", "Output directory")
	seed        = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	sources    = []string{"deep-dive", "morning-brief", "lab-notes", "long-form"}
	categories = []string{"ai", "bio", "physics", "climate", "history"}

	speakers = []string{"HOST", "GUEST", "CO-HOST"}
	openers  = []string{"So", "Right, and", "I think", "Honestly,", "What struck me is that", "Going back to that,"}
	subjects = []string{"the team", "the paper", "that experiment", "the early data", "the whole field", "our listeners"}
	verbs    = []string{"changed how we think about", "kept returning to", "underestimated", "tried to measure", "argued against", "slowly converged on"}
	objects  = []string{"the baseline", "the replication", "the funding question", "the measurement error", "the long tail", "the next decade"}

	topicAdjectives = []string{"cryogenic", "stochastic", "mitochondrial", "tectonic", "photonic", "byzantine", "orbital", "enzymatic"}
	topicNouns      = []string{"lattice", "cascade", "reservoir", "archive", "manifold", "turbine", "ledger", "aperture"}
)

type episode struct {
	id, title, source, category, topic string
	published                          time.Time
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	dir := filepath.Join(*outputDir, "episodes")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fail(err)
	}

	episodes := make([]episode, *numEpisodes)
	var script strings.Builder
	script.WriteString("#!/bin/sh\nset -e\ncd \"$(dirname \"$0\")\"\n")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range episodes {
		ep := episode{
			id:        fmt.Sprintf("ep-%04d", i+1),
			source:    pick(rng, sources),
			category:  pick(rng, categories),
			topic:     fmt.Sprintf("%s %s %d", pick(rng, topicAdjectives), pick(rng, topicNouns), i+1),
			published: start.AddDate(0, 0, i*3),
		}
		ep.title = fmt.Sprintf("Episode %d: the %s", i+1, ep.topic)
		episodes[i] = ep

		path := filepath.Join(dir, ep.id+".txt")
		if err := os.WriteFile(path, []byte(transcript(rng, ep)), 0o644); err != nil {
			fail(err)
		}
		fmt.Fprintf(&script, "recall ingest episodes/%s.txt --id %s --title %q --source %s --category %s --published %s --no-embed\n",
			ep.id, ep.id, ep.title, ep.source, ep.category, ep.published.Format(time.DateOnly))
	}
	script.WriteString("recall embed\n")

	if err := os.WriteFile(filepath.Join(*outputDir, "ingest.sh"), []byte(script.String()), 0o755); err != nil {
		fail(err)
	}
	if err := writeSuite(rng, episodes); err != nil {
		fail(err)
	}
	fmt.Printf("Generated %d episodes and %d cases in %s\n", len(episodes), min(*numCases, len(episodes)), *outputDir)
}

func transcript(rng *rand.Rand, ep episode) string {
	var b strings.Builder
	mention := rng.Intn(*sentences)
	for i := 0; i < *sentences; i++ {
		fmt.Fprintf(&b, "%s: ", speakers[i%len(speakers)])
		if i == mention {
			fmt.Fprintf(&b, "The real story this week is the %s and why it matters.\n", ep.topic)
			continue
		}
		fmt.Fprintf(&b, "%s %s %s %s.\n", pick(rng, openers), pick(rng, subjects), pick(rng, verbs), pick(rng, objects))
	}
	return b.String()
}

func writeSuite(rng *rand.Rand, episodes []episode) error {
	suite := eval.Suite{
		Name: fmt.Sprintf("synthetic-%d", len(episodes)),
		K:    10,
		Mode: "hybrid",
	}
	for _, i := range rng.Perm(len(episodes))[:min(*numCases, len(episodes))] {
		ep := episodes[i]
		suite.Cases = append(suite.Cases, eval.Case{
			ID:                "find-" + ep.id,
			Query:             ep.topic,
			ExpectedDocuments: []string{ep.id},
		})
	}
	suite.Cases = append(suite.Cases, eval.Case{
		ID:    "negative-unknown-topic",
		Query: "quantum origami",
		Notes: "no episode mentions it",
	})

	data, err := yaml.Marshal(suite)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(*outputDir, "suite.yaml"), data, 0o644)
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
