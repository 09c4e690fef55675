package main

import (
	"fmt"
	"os"
	"regexp"
)

// Conventional Commits check run by lefthook on commit-msg.
func main() {
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("\033[1;31m✗ Error reading commit message: %v\033[0m\n", err)
		os.Exit(1)
	}

	re := regexp.MustCompile(`^(feat|fix|docs|style|refactor|perf|test|chore)(\([^)]+\))?: .+`)
	if !re.MatchString(string(data)) {
		fmt.Println("\033[1;31m✗ Commit message does not follow Conventional Commits format.\033[0m")
		fmt.Println("\033[1;33mFormat:\033[0m <type>(<scope>): <description>")
		fmt.Println("\033[1;33mExamples:\033[0m")
		fmt.Println("  feat(wire): decode chunked input strings")
		fmt.Println("  fix(session): keep pending request on wrong input kind")
		fmt.Println("  docs: describe the prefix table")
		os.Exit(1)
	}
	fmt.Println("\033[1;32m✓ Commit message format looks good!\033[0m")
}
