package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spetr/localchat/pkg/types"
)

// SourceNames returns the distinct source names present in the store, sorted.
func (e *Engine) SourceNames(ctx context.Context) ([]string, error) {
	keys, err := e.store.Keys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrSearchFailed, err)
	}

	seen := make(map[string]struct{})
	var names []string
	for _, key := range keys {
		name := types.KeySourceName(key)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SuggestSources returns ingested source names that resemble query, best first.
// It helps a caller recover from a filename filter that matched nothing.
func (e *Engine) SuggestSources(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	names, err := e.SourceNames(ctx)
	if err != nil {
		return nil, err
	}
	return rankNames(query, names, limit), nil
}

// rankNames scores names against query: exact, prefix, contains, then fuzzy.
func rankNames(query string, names []string, limit int) []string {
	queryLower := strings.ToLower(query)
	queryTokens := tokenize(query)

	type nameMatch struct {
		name  string
		score float32
	}
	var matches []nameMatch

	for _, name := range names {
		nameLower := strings.ToLower(name)

		var score float32
		switch {
		case nameLower == queryLower:
			score = 1.0
		case strings.HasPrefix(nameLower, queryLower):
			score = 0.9
		case strings.Contains(nameLower, queryLower):
			score = 0.7
		default:
			score = fuzzyMatch(queryLower, nameLower) * 0.6
			if ts := tokenMatch(queryTokens, tokenize(name)) * 0.8; ts > score {
				score = ts
			}
		}

		if score > 0.3 {
			matches = append(matches, nameMatch{name: name, score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]string, 0, min(limit, len(matches)))
	for i := 0; i < len(matches) && i < limit; i++ {
		out = append(out, matches[i].name)
	}
	return out
}

// fuzzyMatch calculates fuzzy similarity using longest common subsequence.
func fuzzyMatch(query, target string) float32 {
	if len(query) == 0 || len(target) == 0 {
		return 0
	}

	indices := lcsIndices(query, target)
	if len(indices) == 0 {
		return 0
	}

	matchRatio := float32(len(indices)) / float32(len(query))
	targetRatio := float32(len(indices)) / float32(len(target))

	consecutive := float32(0)
	for i := 1; i < len(indices); i++ {
		if indices[i] == indices[i-1]+1 {
			consecutive += 0.05
		}
	}

	return min(matchRatio*0.6+targetRatio*0.3+consecutive*0.1, 1.0)
}

// lcsIndices returns the positions in s2 of a longest common subsequence of s1 and s2.
func lcsIndices(s1, s2 string) []int {
	m, n := len(s1), len(s2)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if s1[i-1] == s2[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	indices := make([]int, dp[m][n])
	k := len(indices) - 1
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case s1[i-1] == s2[j-1]:
			indices[k] = j - 1
			k--
			i--
			j--
		case dp[i-1][j] > dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return indices
}

// tokenize splits a file name into lowercase words.
func tokenize(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' ' || r == '/'
	})
}

// tokenMatch returns the share of query tokens that prefix some target token.
func tokenMatch(queryTokens, targetTokens []string) float32 {
	if len(queryTokens) == 0 || len(targetTokens) == 0 {
		return 0
	}

	matched := 0
	for _, qt := range queryTokens {
		for _, tt := range targetTokens {
			if strings.HasPrefix(tt, qt) {
				matched++
				break
			}
		}
	}
	return float32(matched) / float32(len(queryTokens))
}
