// Package render formats content-source messages for the tenant chat.
package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/memohai/wxbridge/internal/puppet"
)

const (
	chainMarker      = "#接龙"
	chainKeepRunes   = 100
	friendRecommends = "Friend recommendation message"
)

var (
	tagPattern = regexp.MustCompile(`<[^>]*>?`)
	brPattern  = regexp.MustCompile(`(?i)<br\s*/?>`)
)

var banNotifications = []string{
	"分享的二维码加入群聊",
	"加入了群聊",
	`" 拍了拍 "`,
	"with anyone else in this group chat",
	"joined the group chat via",
	"to the group chat",
	" tickled ",
	"invited you to a group chat with",
	"邀请你加入了群聊，群聊参与人还有",
	"与群里其他人都不是微信朋友关系，请注意隐私安全",
	"你通过扫描二维码加入群聊，群聊参与人还有：",
	`" 拍了拍自己`,
	"确认了一笔转账，当前微信版本不支持展示该内容",
	"向他人发起了一笔转账，当前微信版本不支持展示该内容",
}

// Message wraps an HTML body under a nickname header.
func Message(nickname, body string) string {
	return fmt.Sprintf("<code>%s</code>\n----------\n%s", html.EscapeString(nickname), body)
}

// Nickname renders "Name (Alias) [Topic]" for a message sender, with a
// trailing "[mark]" when the sender is the locked current contact.
func Nickname(msg puppet.Message, lockedMark string) string {
	name := puppet.DisplayName(msg.Talker)
	if msg.Room != nil {
		name = fmt.Sprintf("%s [%s]", name, msg.Room.Topic)
	}
	if lockedMark != "" {
		name = fmt.Sprintf("%s[%s]", name, lockedMark)
	}
	return name
}

// IsFriendRecommendation reports whether the sender is the platform's friend
// recommendation system account.
func IsFriendRecommendation(nickname string) bool {
	return strings.Contains(nickname, friendRecommends)
}

// PlainText converts line breaks to newlines and strips markup, returning unescaped text.
func PlainText(raw string) string {
	text := brPattern.ReplaceAllString(raw, " \n")
	text = tagPattern.ReplaceAllString(text, "")
	return html.UnescapeString(text)
}

// Text returns raw message text as HTML-safe body text.
func Text(raw string) string {
	return html.EscapeString(PlainText(raw))
}

// IsXML reports whether a message text carries an XML document.
func IsXML(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(html.UnescapeString(raw)), "<?xml")
}

// IsBanNotification reports whether group text is a platform system notice.
func IsBanNotification(text string) bool {
	for _, n := range banNotifications {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

// TruncateChain keeps only the tail of "#接龙" chain messages.
func TruncateChain(text string) string {
	if !strings.Contains(text, chainMarker) {
		return text
	}
	if utf8.RuneCountInString(text) <= chainKeepRunes {
		return text
	}
	runes := []rune(text)
	return chainMarker + "\n\n" + string(runes[len(runes)-chainKeepRunes:])
}

// htmlToText converts an HTML fragment to Markdown-flavored plain text.
func htmlToText(fragment string) string {
	fragment = strings.NewReplacer("[", "", "]", "").Replace(strings.TrimSpace(fragment))
	if fragment == "" {
		return ""
	}
	out, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return strings.TrimSpace(PlainText(fragment))
	}
	return strings.TrimSpace(out)
}

// Link renders an HTML anchor with escaped text.
func Link(title, url string) string {
	if strings.TrimSpace(url) == "" {
		return html.EscapeString(title)
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(url), html.EscapeString(title))
}
