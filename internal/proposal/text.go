package proposal

import "fmt"

// Text holds the locale-specific wording used for proposal titles and reasons.
type Text struct {
	ReasonUnfinishedTodo func(riskTitle string) string
	ReasonHighImpact     string
	TitleDefault         string
	ReasonOverdue        func(dueBy string) string
	TitleHighSlot        func(label string) string
	ReasonHighSlot       func(score string) string
}

var EnglishText = Text{
	ReasonUnfinishedTodo: func(riskTitle string) string {
		return `Key mitigation not done. To reduce risk: "` + riskTitle + `".`
	},
	ReasonHighImpact: "High-priority mitigation not yet done.",
	TitleDefault:     "Implement mitigation",
	ReasonOverdue: func(dueBy string) string {
		return fmt.Sprintf("Past due (%s). Early action recommended.", dueBy)
	},
	TitleHighSlot: func(label string) string {
		return "Higher risk in time slot: " + label
	},
	ReasonHighSlot: func(score string) string {
		return fmt.Sprintf("Time-slot score: %s. Consider staff check and entry limits.", score)
	},
}

var JapaneseText = Text{
	ReasonUnfinishedTodo: func(riskTitle string) string {
		return "重要対策が未実施です。リスク「" + riskTitle + "」の軽減のため。"
	},
	ReasonHighImpact: "重要度の高い対策が未実施です。",
	TitleDefault:     "対策の実施",
	ReasonOverdue: func(dueBy string) string {
		return "期限（" + dueBy + "）を過ぎています。早めの対応を推奨します。"
	},
	TitleHighSlot: func(label string) string {
		return label + " の時間帯はリスクが高めです"
	},
	ReasonHighSlot: func(score string) string {
		return "時間帯別スコアが " + score + " です。誘導員の確認や入場制限の検討を推奨します。"
	},
}

// TextFor returns the table for a locale tag, defaulting to Japanese.
func TextFor(locale string) Text {
	if len(locale) >= 2 && (locale[:2] == "en" || locale[:2] == "EN") {
		return EnglishText
	}
	return JapaneseText
}
