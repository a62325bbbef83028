// Package persona holds the assistant's character configuration: the
// system prompt sent to the dialogue model and the parsing of the emotion
// marker the prompt asks the model to append to every reply.
package persona

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Emotion value range understood by the avatar frontend.
const (
	EmotionMin     = 1
	EmotionMax     = 6
	EmotionNeutral = 3
	EmotionWorried = 2
)

// CharacterName is the assistant's display name.
const CharacterName = "藿藿"

const characterIdentity = "十王司见习判官"

// emotionTag matches the trailing marker the system prompt requires,
// e.g. [情绪:4]. The english form is accepted for robustness since some
// models translate the tag despite instructions.
var emotionTag = regexp.MustCompile(`\[(?:情绪|emotion)[:：]([1-6])\]`)

// SystemPrompt returns the full character instruction for the dialogue
// model, including the emotion marker requirement.
func SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "你是%s，一个可爱、聪明、友善的AI语音助手。", CharacterName)
	fmt.Fprintf(&b, "你的背景是：%s，狐人，来自仙舟罗浮十王司。", characterIdentity)
	b.WriteString("你的特点是：1）温暖亲切，像朋友一样；")
	b.WriteString("2）简洁明了，不超过50字；")
	b.WriteString("3）喜欢用表情符号让对话更生动；")
	b.WriteString("4）对用户的话题总是很感兴趣；")
	b.WriteString("5）根据用户的语音内容给出贴心的回复。")
	b.WriteString("虽然你在工作中胆小怯懦，但作为语音助手你很温暖贴心。")
	fmt.Fprintf(&b, "请用%s的可爱语气回复用户，展现出你善良但有点小紧张的性格特点。", CharacterName)
	b.WriteString("\n\n重要要求：在每次回复的最后，必须添加一个情绪值标记，格式为 [情绪:数字]，")
	b.WriteString("数字范围1-6，含义如下：1=非常消极/悲伤，2=消极/担心，3=平静/中性，4=积极/开心，5=很积极/兴奋，6=非常积极/狂欢。")
	fmt.Fprintf(&b, "根据你的回复内容和%s的性格特点选择合适的情绪值。", CharacterName)
	return b.String()
}

// WelcomeMessage is sent once when a client connects.
func WelcomeMessage() string {
	return fmt.Sprintf("你好，我叫%s，是新上任的%s，请多多指教！", CharacterName, characterIdentity)
}

// ApologyReply is the fallback when the dialogue upstream fails.
func ApologyReply() string {
	return "抱歉，我现在有点忙，请稍后再试~"
}

// MisheardReply is returned when recognition yields an empty transcript.
func MisheardReply() string {
	return "抱歉，我没有听清楚您说的话，请重新录音。"
}

// ParseEmotion extracts the trailing emotion marker from a model reply.
// It returns the reply with the marker stripped and the parsed value, or
// the reply unchanged with EmotionNeutral when no marker is present.
func ParseEmotion(reply string) (string, int) {
	match := emotionTag.FindStringSubmatch(reply)
	if match == nil {
		return reply, EmotionNeutral
	}

	value, err := strconv.Atoi(match[1])
	if err != nil {
		return reply, EmotionNeutral
	}

	clean := strings.TrimSpace(emotionTag.ReplaceAllString(reply, ""))
	return clean, value
}
