package index

import "strings"

const noAnswer = "回答を生成できませんでした"

const assistantInstruction = `あなたは弁護士事務所のアシスタントです。
提供されたファイルの内容に基づいて質問に回答してください。
回答は日本語で、簡潔かつ正確に行ってください。`

func buildPrompt(question string) string {
	return assistantInstruction + "\n\nユーザーの質問: " + strings.TrimSpace(question)
}

func orNoAnswer(text string) string {
	if strings.TrimSpace(text) == "" {
		return noAnswer
	}
	return text
}
