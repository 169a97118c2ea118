package ocr

import (
	"regexp"
	"strings"
)

// Tier identifies which matching rule produced an amount.
type Tier int

const (
	TierNone    Tier = iota
	TierStrict       // SUMA label followed by a separated decimal amount
	TierForced       // fuzzy label, last two digits read as cents
	TierCompact      // fuzzy label, last 3-8 digit run divided by 100
	TierHint         // "SU ... PLN" anywhere with enough digits
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierForced:
		return "forced"
	case TierCompact:
		return "compact"
	case TierHint:
		return "hint"
	}
	return "none"
}

// Extraction is the SUMA amount found in a recognized text together with the line it
// came from. Found is false when no line matched.
type Extraction struct {
	Amount Amount
	Line   string
	Tier   Tier
	Found  bool
}

var (
	lineSplitRE  = regexp.MustCompile(`\r?\n`)
	strictRE     = regexp.MustCompile(`(?i)(?:^|\b)(?:s\s*u\s*m\s*[ahą]|suma)\b[^\d\r\n]*\b(\d{1,3}(?:[.,]\d{3})*[.,]\d{2})\b`)
	fuzzyLabelRE = regexp.MustCompile(`(?i)(?:^|\b)s\s*[uü]\s*(?:[mnh]\s*[aą](?:\s*[lł])?)?`)
	compactRE    = regexp.MustCompile(`\b\d{3,8}\b`)
	hintRE       = regexp.MustCompile(`(?i)s\s*u.*p\s*l\s*n`)
	trailingRE   = regexp.MustCompile(`(\d[\d.,\s]*)\D*$`)
)

// ExtractSuma scans text line by line and returns the amount of the last line that
// yields one. A line that yields nothing never clears an earlier result.
func ExtractSuma(text string) Extraction {
	var last Extraction
	for _, line := range lineSplitRE.Split(text, -1) {
		if e, ok := extractLine(line); ok {
			last = e
		}
	}
	return last
}

// ExtractAmount is ExtractSuma returning ErrNoAmount when nothing matched.
func ExtractAmount(text string) (Extraction, error) {
	e := ExtractSuma(text)
	if !e.Found {
		return e, ErrNoAmount
	}
	return e, nil
}

func extractLine(line string) (Extraction, bool) {
	found := func(a Amount, t Tier) (Extraction, bool) {
		return Extraction{Amount: a, Line: line, Tier: t, Found: true}, true
	}
	if m := strictRE.FindStringSubmatch(line); m != nil {
		if a, ok := ParseDecimal(m[1]); ok {
			return found(a, TierStrict)
		}
	}
	if fuzzyLabelRE.MatchString(line) {
		if a, ok := forcedFromLine(line); ok {
			return found(a, TierForced)
		}
		if nums := compactRE.FindAllString(line, -1); len(nums) > 0 {
			if a, ok := forcedCents(nums[len(nums)-1]); ok {
				return found(a, TierCompact)
			}
		}
		return Extraction{}, false
	}
	if hintRE.MatchString(line) && len(OnlyDigits(line)) >= 3 {
		if a, ok := forcedFromLine(line); ok {
			return found(a, TierHint)
		}
	}
	return Extraction{}, false
}

// forcedFromLine reads the digits after the last "pln" (else "suma", else "su") with
// the final two as cents. With fewer than three digits there it falls back to the
// last digit run of the line, which needs at least two digits.
func forcedFromLine(line string) (Amount, bool) {
	lower := strings.ToLower(line)
	tail := lower
	switch {
	case strings.LastIndex(lower, "pln") >= 0:
		tail = lower[strings.LastIndex(lower, "pln")+3:]
	case strings.LastIndex(lower, "suma") >= 0:
		tail = lower[strings.LastIndex(lower, "suma")+4:]
	case strings.LastIndex(lower, "su") >= 0:
		tail = lower[strings.LastIndex(lower, "su")+2:]
	}
	if digits := OnlyDigits(tail); len(digits) >= 3 {
		return forcedCents(digits)
	}
	m := trailingRE.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	return forcedCents(OnlyDigits(m[1]))
}
