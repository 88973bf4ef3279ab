// Package cache caches analytical query results so deterministic read
// queries are not re-executed. Entries are addressed by a content hash of
// the normalized query text and stored in one of three interchangeable
// backends: per-query DuckDB files, Redis, or S3.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	lineCommentRe  = regexp.MustCompile(`--[^\n]*`)
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	tableRefRe     = regexp.MustCompile("(?i)\\b(?:from|join)\\s+([`\"]?\\w[\\w.]*[`\"]?)")
)

// Normalize produces the canonical form of a query used for hashing:
// comments stripped, whitespace runs collapsed to single spaces, trimmed,
// lower-cased. Deterministic and total.
func Normalize(query string) string {
	query = lineCommentRe.ReplaceAllString(query, "")
	query = blockCommentRe.ReplaceAllString(query, "")
	query = strings.Join(strings.Fields(query), " ")
	return strings.ToLower(query)
}

// DeriveKey returns the cache key for a query: the SHA-256 hex digest of
// the normalized text. Queries that normalize identically always map to
// the same key; this is the cache's only identity mechanism.
func DeriveKey(query string) string {
	sum := sha256.Sum256([]byte(Normalize(query)))
	return hex.EncodeToString(sum[:])
}

// ExtractTables returns the table identifiers a query references, found by
// scanning for FROM and JOIN clauses and taking the first token after the
// keyword. Quotes and backticks are stripped, aliases dropped, and
// schema-qualified names flattened with "__". The scan is a lexical
// heuristic that can under- or over-approximate on subqueries and CTEs;
// its only consumer is advisory table-scoped invalidation.
func ExtractTables(query string) []string {
	matches := tableRefRe.FindAllStringSubmatch(strings.ToLower(query), -1)
	if len(matches) == 0 {
		return nil
	}

	var tables []string
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		name := strings.Trim(m[1], "`\"")
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(name, ".", "__")
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tables = append(tables, name)
	}
	return tables
}
