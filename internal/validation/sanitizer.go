package validation

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はフォーム入力からマークアップを取り除き、プレーンテキストにする。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はStrictPolicyでTextSanitizerを生成する。
// StrictPolicyは全てのタグと属性を除去する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去し、前後の空白を落としたテキストを返す。
// bluemondayが施すエスケープは元に戻し、保存値はプレーンテキストのままにする。
func (s *TextSanitizer) Clean(input string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(input)))
}
