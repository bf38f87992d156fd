package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/engezna/engezna-agent/internal/llm"
)

func TestNormalizeInsight(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  Likes   Spicy Food.  ", "likes spicy food"},
		{"LIKES SPICY FOOD", "likes spicy food"},
		{"بيحب الأكل الحار؟", "بيحب الأكل الحار"},
		{"no trailing!", "no trailing"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeInsight(c.in); got != c.want {
			t.Errorf("NormalizeInsight(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMerge_Additive(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	mem := NewEmpty("cust-1")
	mem.FavoriteCategories = []string{"pizza"}

	changed := Merge(mem, &Delta{
		FavoriteCategories: []string{"koshary"},
		DietaryNotes:       []string{"vegetarian"},
		Insights:           []string{"customer asked about koshary"},
	}, now)
	if !changed {
		t.Fatal("expected merge to report change")
	}
	if len(mem.FavoriteCategories) != 2 {
		t.Errorf("expected categories appended, got %v", mem.FavoriteCategories)
	}
	if len(mem.Insights) != 1 {
		t.Errorf("expected 1 insight, got %d", len(mem.Insights))
	}
	if !mem.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt not set: %v", mem.UpdatedAt)
	}
}

func TestMerge_DedupByNormalizedText(t *testing.T) {
	now := time.Now()
	mem := NewEmpty("cust-1")
	mem.Insights = []Insight{{Text: "Likes spicy food.", AddedAt: now}}

	changed := Merge(mem, &Delta{
		Insights: []string{"likes   spicy food", "LIKES SPICY FOOD!"},
	}, now)
	if changed {
		t.Error("normalized duplicates should not change memory")
	}
	if len(mem.Insights) != 1 {
		t.Errorf("expected 1 insight after dedup, got %d", len(mem.Insights))
	}
}

func TestMerge_EmptyDeltaNoChange(t *testing.T) {
	now := time.Now()
	mem := NewEmpty("cust-1")
	prev := mem.UpdatedAt

	if Merge(mem, &Delta{}, now) {
		t.Error("empty delta should not report change")
	}
	if !mem.UpdatedAt.Equal(prev) {
		t.Error("UpdatedAt should be untouched on no-op merge")
	}
}

func TestCompact(t *testing.T) {
	mem := NewEmpty("cust-1")
	for i := 0; i < MaxInsights+10; i++ {
		mem.Insights = append(mem.Insights, Insight{Text: fmt.Sprintf("insight %d", i)})
	}

	if !Compact(mem) {
		t.Fatal("expected compaction to drop entries")
	}
	if len(mem.Insights) != MaxInsights {
		t.Fatalf("expected %d insights, got %d", MaxInsights, len(mem.Insights))
	}
	// The newest entries survive.
	if mem.Insights[len(mem.Insights)-1].Text != fmt.Sprintf("insight %d", MaxInsights+9) {
		t.Errorf("expected newest insight kept, got %q", mem.Insights[len(mem.Insights)-1].Text)
	}
	if Compact(mem) {
		t.Error("second compaction should be a no-op")
	}
}

func TestAnalyzeConversation_Keywords(t *testing.T) {
	delta := AnalyzeConversation([]llm.Message{
		{Role: llm.RoleUser, Content: "عايز بيتزا بس أنا نباتي"},
	})

	if len(delta.FavoriteCategories) != 1 || delta.FavoriteCategories[0] != "pizza" {
		t.Errorf("expected pizza category, got %v", delta.FavoriteCategories)
	}
	if len(delta.DietaryNotes) != 1 || delta.DietaryNotes[0] != "vegetarian" {
		t.Errorf("expected vegetarian note, got %v", delta.DietaryNotes)
	}
	if len(delta.Insights) == 0 {
		t.Error("expected derived insights")
	}
}

func TestAnalyzeConversation_MerchantFromOrderResult(t *testing.T) {
	delta := AnalyzeConversation([]llm.Message{
		{Role: llm.RoleUser, ContentBlocks: []llm.ContentBlock{
			llm.ToolResultBlock("toolu_01", `{"order_id":"abc","merchant_name":"مطعم كشري التحرير","status":"pending"}`, false),
		}},
	})
	if len(delta.FrequentMerchants) != 1 || delta.FrequentMerchants[0] != "مطعم كشري التحرير" {
		t.Errorf("expected merchant extracted, got %v", delta.FrequentMerchants)
	}
}

func TestAnalyzeConversation_IgnoresErrorsAndAssistantText(t *testing.T) {
	delta := AnalyzeConversation([]llm.Message{
		// Assistant mentioning pizza is not a customer preference.
		{Role: llm.RoleAssistant, Content: "do you want pizza?"},
		// Failed order results carry no merchant affinity.
		{Role: llm.RoleUser, ContentBlocks: []llm.ContentBlock{
			llm.ToolResultBlock("toolu_01", `{"error":"not_found"}`, true),
		}},
	})
	if !delta.Empty() {
		t.Errorf("expected empty delta, got %+v", delta)
	}
}

func TestAnalyzeConversation_Deterministic(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "burger and pizza please, I'm vegan and allergic to nuts"},
	}
	first := AnalyzeConversation(msgs)
	for i := 0; i < 10; i++ {
		next := AnalyzeConversation(msgs)
		if fmt.Sprint(next) != fmt.Sprint(first) {
			t.Fatal("analysis must be deterministic for identical input")
		}
	}
}
