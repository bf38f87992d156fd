package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/engezna/engezna-agent/internal/llm"
)

// dietaryKeywords maps message substrings (both languages) to a canonical
// dietary note. Matching is substring-based after lower-casing; Arabic has
// no case so the terms match as written.
var dietaryKeywords = map[string]string{
	"vegetarian":  "vegetarian",
	"vegan":       "vegan",
	"نباتي":       "vegetarian",
	"gluten":      "gluten-sensitive",
	"جلوتين":      "gluten-sensitive",
	"allergic":    "has food allergy",
	"allergy":     "has food allergy",
	"حساسية":      "has food allergy",
	"diabetic":    "diabetic",
	"سكري":        "diabetic",
	"halal":       "halal only",
	"no pork":     "no pork",
	"lactose":     "lactose-intolerant",
	"حليب":        "lactose-intolerant",
	"spicy":       "likes spicy food",
	"حار":         "likes spicy food",
	"حراق":        "likes spicy food",
	"not spicy":   "avoids spicy food",
	"مش حار":      "avoids spicy food",
	"بدون شطة":    "avoids spicy food",
	"low carb":    "low-carb",
	"كيتو":        "keto",
	"keto":        "keto",
	"صايم":        "fasting",
	"fasting":     "fasting",
	"بدون بصل":    "no onions",
	"بدون ثوم":    "no garlic",
	"extra sauce": "likes extra sauce",
}

// categoryKeywords maps message substrings to a food/goods category.
var categoryKeywords = map[string]string{
	"pizza":     "pizza",
	"بيتزا":     "pizza",
	"burger":    "burger",
	"برجر":      "burger",
	"برغر":      "burger",
	"sushi":     "sushi",
	"سوشي":      "sushi",
	"shawarma":  "shawarma",
	"شاورما":    "shawarma",
	"koshary":   "koshary",
	"كشري":      "koshary",
	"coffee":    "coffee",
	"قهوة":      "coffee",
	"dessert":   "dessert",
	"حلويات":    "dessert",
	"حلو":       "dessert",
	"grill":     "grill",
	"مشويات":    "grill",
	"seafood":   "seafood",
	"سمك":       "seafood",
	"جمبري":     "seafood",
	"fried":     "fried chicken",
	"فراخ":      "fried chicken",
	"chicken":   "fried chicken",
	"pharmacy":  "pharmacy",
	"صيدلية":    "pharmacy",
	"دواء":      "pharmacy",
	"grocery":   "grocery",
	"بقالة":     "grocery",
	"سوبر ماركت": "grocery",
}

// AnalyzeConversation derives an additive memory delta from a finished
// conversation. This is a deterministic keyword heuristic over the turn
// text and the tool traffic, not a second model call: cheap enough to run
// on every turn and stable under replay.
func AnalyzeConversation(turns []llm.Message) *Delta {
	delta := &Delta{}
	seenCat := map[string]bool{}
	seenDiet := map[string]bool{}
	seenMerchant := map[string]bool{}

	for _, turn := range turns {
		if turn.Role == llm.RoleUser {
			text := strings.ToLower(turn.TextContent())
			if text == "" {
				continue
			}
			for kw, note := range dietaryKeywords {
				if strings.Contains(text, kw) && !seenDiet[note] {
					seenDiet[note] = true
					delta.DietaryNotes = append(delta.DietaryNotes, note)
				}
			}
			for kw, cat := range categoryKeywords {
				if strings.Contains(text, kw) && !seenCat[cat] {
					seenCat[cat] = true
					delta.FavoriteCategories = append(delta.FavoriteCategories, cat)
				}
			}
		}

		// Completed orders reveal merchant affinity. place_order results carry
		// the merchant name in their JSON payload.
		for _, b := range turn.ContentBlocks {
			if b.Type != "tool_result" || b.IsError {
				continue
			}
			if name := merchantFromOrderResult(b.Text); name != "" && !seenMerchant[name] {
				seenMerchant[name] = true
				delta.FrequentMerchants = append(delta.FrequentMerchants, name)
			}
		}
	}

	// Keyword map iteration order is random; Delta output must be stable
	// for identical input.
	sort.Strings(delta.DietaryNotes)
	sort.Strings(delta.FavoriteCategories)

	for _, note := range delta.DietaryNotes {
		delta.Insights = append(delta.Insights, "customer mentioned: "+note)
	}
	for _, cat := range delta.FavoriteCategories {
		delta.Insights = append(delta.Insights, "customer asked about "+cat)
	}
	for _, m := range delta.FrequentMerchants {
		delta.Insights = append(delta.Insights, fmt.Sprintf("customer ordered from %s", m))
	}

	return delta
}

// merchantFromOrderResult extracts the merchant name from a place_order
// tool result payload, or "" if the payload is not an order confirmation.
func merchantFromOrderResult(payload string) string {
	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return ""
	}
	if _, ok := data["order_id"]; !ok {
		return ""
	}
	name, _ := data["merchant_name"].(string)
	return name
}
