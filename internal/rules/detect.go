package rules

import "strings"

// minSignatureScore is the share of a signature that must appear among the headers.
const minSignatureScore = 0.4

var signatures = map[string][]string{
	"FSOptions": {"call level", "put level", "call strike", "put strike", "trend dir"},
	"TTScanner": {"direction", "entry price", "stop price", "profit", "target #1"},
	"MENTFib":   {"bull zone 1", "bull zone 2", "bear zone 1", "bear zone 2", "fib pivot trend"},
}

// signatureOrder keeps ties deterministic.
var signatureOrder = []string{"FSOptions", "TTScanner", "MENTFib"}

// DetectAlgorithm guesses the algorithm that produced a snapshot from its headers.
// It returns "" when no signature scores at least minSignatureScore.
func DetectAlgorithm(headers []string) string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[strings.ToLower(strings.TrimSpace(h))] = true
	}

	best, bestScore := "", 0.0
	for _, name := range signatureOrder {
		sig := signatures[name]
		matched := 0
		for _, col := range sig {
			if present[col] {
				matched++
			}
		}
		score := float64(matched) / float64(len(sig))
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	if bestScore < minSignatureScore {
		return ""
	}
	return best
}
