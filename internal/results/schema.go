// Package results persists benchmark results of optimizer exploration runs
// (benchmarks, queries, optimizer configurations and their measurements) and
// extracts them again as training experience.
package results

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// schemaSQL is the fixed DDL script applied on every open.
//
//go:embed schema.sql
var schemaSQL string

// bestAlternativeSQL is the versioned template behind BestAlternativeConfiguration.
//
//go:embed queries/best_alternative_queries.sql
var bestAlternativeSQL string

// loadSchema returns the DDL script, read from path when set.
func loadSchema(path string) (string, error) {
	if path == "" {
		return schemaSQL, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read schema file: %w", err)
	}
	return string(data), nil
}

// splitStatements splits a DDL script into individual statements.
// Full-line "--" comments are dropped before splitting on semicolons.
func splitStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}

// isAlreadyExists reports DDL failures caused by an object that already exists.
func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
