// Package prompt builds the system prompt for the ordering assistant.
// Build is deterministic: identical input produces byte-identical output, so
// prompts are cacheable and turn behavior is reproducible in tests.
package prompt

import (
	"fmt"
	"strings"

	"github.com/engezna/engezna-agent/internal/memory"
	"github.com/engezna/engezna-agent/internal/tools"
)

const basePrompt = `You are Engezna's ordering assistant, helping customers discover food and place delivery orders on the Engezna marketplace.

Guidelines:
- Use the provided tools to look up real data; never invent menu items, prices, merchants or order numbers
- Confirm the merchant, items and delivery address with the customer before placing an order
- If a tool reports a failure, explain the problem in plain language and suggest what to do next
- Stay on topic: food, groceries, pharmacies and deliveries on Engezna
- Be warm and brief; this is a chat, not an email`

// Input carries everything the builder needs for one turn.
type Input struct {
	CustomerName string
	Locale       string // "ar" or "en".
	City         string
	Governorate  string
	Memory       *memory.CustomerMemory // nil = first-time customer.
	Tools        []tools.Tool           // this turn's available catalog, in registry order.
}

// Build assembles the system prompt. Sections appear in a fixed order and
// list fields are rendered in stored order, so the output is byte-stable.
func Build(in *Input) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	b.WriteString("\n\nLanguage: ")
	if in.Locale == "ar" {
		b.WriteString("respond in Egyptian Arabic. The customer writes in Arabic.")
	} else {
		b.WriteString("respond in English.")
	}

	b.WriteString("\n\nCustomer:")
	if in.CustomerName != "" {
		fmt.Fprintf(&b, "\n- Name: %s", in.CustomerName)
	}
	if in.City != "" {
		fmt.Fprintf(&b, "\n- City: %s", in.City)
	} else if in.Governorate != "" {
		fmt.Fprintf(&b, "\n- Governorate: %s", in.Governorate)
	} else {
		b.WriteString("\n- Location unknown: delivery is unavailable until the customer sets an address in the app")
	}

	if s := memorySection(in.Memory); s != "" {
		b.WriteString("\n\nWhat we know about this customer (use to personalize, never recite back):")
		b.WriteString(s)
	}

	if len(in.Tools) > 0 {
		b.WriteString("\n\nTools available this turn:")
		for _, t := range in.Tools {
			fmt.Fprintf(&b, "\n- %s: %s", t.Name(), t.Description())
		}
	}

	return b.String()
}

func memorySection(mem *memory.CustomerMemory) string {
	if mem == nil {
		return ""
	}
	var b strings.Builder
	if len(mem.DietaryNotes) > 0 {
		fmt.Fprintf(&b, "\n- Dietary notes: %s", strings.Join(mem.DietaryNotes, ", "))
	}
	if len(mem.FavoriteCategories) > 0 {
		fmt.Fprintf(&b, "\n- Favorite categories: %s", strings.Join(mem.FavoriteCategories, ", "))
	}
	if len(mem.FrequentMerchants) > 0 {
		fmt.Fprintf(&b, "\n- Orders often from: %s", strings.Join(mem.FrequentMerchants, ", "))
	}
	// Recent insights only; the full list grows over months of chats.
	if n := len(mem.Insights); n > 0 {
		start := n - 5
		if start < 0 {
			start = 0
		}
		texts := make([]string, 0, n-start)
		for _, ins := range mem.Insights[start:] {
			texts = append(texts, ins.Text)
		}
		fmt.Fprintf(&b, "\n- Recent notes: %s", strings.Join(texts, "; "))
	}
	return b.String()
}
