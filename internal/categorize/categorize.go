// Package categorize assigns a spending category to a raw transaction
// description. It is a pure keyword engine: no I/O, deterministic output,
// so sync workers can call it concurrently without coordination.
package categorize

import "strings"

type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// DefaultCategory is the fallback when no rule matches.
const DefaultCategory = "Uncategorized"

type Result struct {
	Category   string
	Confidence int
	Direction  Direction
}

type rule struct {
	category   string
	direction  Direction
	confidence int
	keywords   []string
}

// Rules are ordered: merchant brands first so "UBER TRIP FEE" lands on
// Transport, not Bank Fees. The first match wins.
var rules = []rule{
	{"Transport", DirectionExpense, 85, []string{"uber", "bolt", "lyft", "taxi", "boda", "fuel", "shell", "total energies"}},
	{"Dining", DirectionExpense, 85, []string{"kfc", "java house", "mcdonald", "restaurant", "cafe", "pizza"}},
	{"Shopping", DirectionExpense, 80, []string{"amazon", "jumia", "carrefour", "shoprite", "naivas"}},
	{"Bills & Utilities", DirectionExpense, 80, []string{"electricity", "umeme", "water bill", "nwsc", "dstv", "gotv", "internet", "utility"}},
	{"Airtime & Data", DirectionExpense, 80, []string{"airtime", "data bundle", "bundle", "top up", "topup"}},
	{"Salary", DirectionIncome, 85, []string{"salary", "payroll", "wages", "stipend"}},
	{"Transfers", DirectionExpense, 70, []string{"transfer", "sent to", "received from", "p2p", "wallet to wallet"}},
	{"Groceries", DirectionExpense, 75, []string{"supermarket", "grocery", "market", "butcher"}},
	{"Bank Fees", DirectionExpense, 75, []string{"monthly fee", "ledger fee", "charge", "commission", "withdrawal fee"}},
}

// Amount thresholds in currency minor units.
const (
	smallAmountMinor = 500     // 5.00: skews toward airtime and fees
	largeAmountMinor = 200000  // 2000.00: skews toward salary-sized deposits
)

// Categorize matches description and merchant text against the rule set.
// amountMinor is the unsigned magnitude; it only adjusts confidence, never
// picks a different category on its own.
func Categorize(description string, amountMinor int64, merchant string) Result {
	haystack := strings.ToLower(description)
	if merchant != "" {
		haystack += " " + strings.ToLower(merchant)
	}

	for _, r := range rules {
		for _, keyword := range r.keywords {
			if strings.Contains(haystack, keyword) {
				return Result{
					Category:   r.category,
					Confidence: adjustConfidence(r.category, r.confidence, amountMinor),
					Direction:  r.direction,
				}
			}
		}
	}

	return Result{Category: DefaultCategory, Confidence: 20, Direction: DirectionExpense}
}

func adjustConfidence(category string, confidence int, amountMinor int64) int {
	switch {
	case category == "Salary" && amountMinor >= largeAmountMinor:
		confidence += 10
	case category == "Salary" && amountMinor < smallAmountMinor:
		confidence -= 20
	case (category == "Airtime & Data" || category == "Bank Fees") && amountMinor < smallAmountMinor:
		confidence += 10
	case (category == "Airtime & Data" || category == "Bank Fees") && amountMinor >= largeAmountMinor:
		confidence -= 15
	}
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 1 {
		confidence = 1
	}
	return confidence
}
