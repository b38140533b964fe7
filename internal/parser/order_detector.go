package parser

import (
	"regexp"
	"strings"
)

// OrderDetector finds order numbers customers quote in subjects and bodies
type OrderDetector struct {
	patterns []*regexp.Regexp
}

// NewOrderDetector creates a new order detector
func NewOrderDetector() *OrderDetector {
	return &OrderDetector{
		patterns: []*regexp.Regexp{
			// "order 1234", "Order #1234", "order#1234", or a bare "#1234"
			regexp.MustCompile(`(?i)(?:order\s*#?\s*|#)(\d{4,8})\b`),
			// "order number: 1234", "order no. 1234"
			regexp.MustCompile(`(?i)order\s+(?:number|no\.?|num\.?)\s*[:#]?\s*(\d{4,8})\b`),
		},
	}
}

// Detect returns the first order number in subject, then body
func (d *OrderDetector) Detect(subject, body string) string {
	all := d.DetectAll(subject + "\n" + body)
	if len(all) == 0 {
		return ""
	}
	return all[0]
}

// DetectAll returns every distinct order number in text in order of appearance
func (d *OrderDetector) DetectAll(text string) []string {
	type hit struct {
		pos   int
		value string
	}

	var hits []hit
	for _, re := range d.patterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			hits = append(hits, hit{pos: m[2], value: strings.TrimSpace(text[m[2]:m[3]])})
		}
	}

	// earliest position wins across patterns
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	var numbers []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if seen[h.value] {
			continue
		}
		seen[h.value] = true
		numbers = append(numbers, h.value)
	}
	return numbers
}
