//go:build ignore

// verify-extract.go re-derives the hash chain of a downloaded ledger extract
// without talking to the service. Auditors can run this against an extract
// file to confirm nothing was altered after hand-off.
//
// Run with: go run scripts/verify-extract.go extract.json
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tcredex/ledgerd/internal/hashchain"
	"github.com/tcredex/ledgerd/internal/ledger/model"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: go run scripts/verify-extract.go <extract.json>")
		os.Exit(2)
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read extract: %v\n", err)
		os.Exit(1)
	}

	var extract model.LedgerExtract
	if err := json.Unmarshal(raw, &extract); err != nil {
		fmt.Fprintf(os.Stderr, "parse extract: %v\n", err)
		os.Exit(1)
	}

	if len(extract.Events) == 0 {
		fmt.Fprintln(os.Stderr, "extract contains no events")
		os.Exit(1)
	}
	if got := extract.Events[len(extract.Events)-1].Hash; got != extract.FinalHash {
		fmt.Fprintf(os.Stderr, "final_hash %s does not match last event hash %s\n",
			extract.FinalHash, got)
		os.Exit(1)
	}

	issues := hashchain.VerifyChain(extract.Events)
	if len(issues) == 0 {
		fmt.Printf("extract %s VALID — %d events, final hash %s\n",
			extract.ExtractID, len(extract.Events), extract.FinalHash)
		return
	}

	fmt.Printf("extract %s INVALID — %d issue(s):\n", extract.ExtractID, len(issues))
	for _, issue := range issues {
		fmt.Printf("  event %d: %s (expected %.12s, got %.12s)\n",
			issue.EventID, issue.IssueType, issue.Expected, issue.Actual)
	}
	os.Exit(1)
}
