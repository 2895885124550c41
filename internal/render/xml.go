package render

import (
	"encoding/xml"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/memohai/wxbridge/internal/locale"
)

// AppMsg is a shared link or an official account digest.
type AppMsg struct {
	Title string
	Desc  string
	URL   string
	Items []AppMsgItem
}

// AppMsgItem is one article of an official account digest.
type AppMsgItem struct {
	Title string
	URL   string
}

type appMsgXML struct {
	AppMsg struct {
		Title    string `xml:"title"`
		Des      string `xml:"des"`
		URL      string `xml:"url"`
		MMReader struct {
			Category struct {
				Items []struct {
					Title string `xml:"title"`
					URL   string `xml:"url"`
				} `xml:"item"`
			} `xml:"category"`
		} `xml:"mmreader"`
	} `xml:"appmsg"`
}

// ContactCard is a shared contact.
type ContactCard struct {
	Avatar   string
	Nickname string
	Province string
	City     string
	WechatID string
	Sex      int
}

// FriendApply is a friend recommendation or application.
type FriendApply struct {
	Nickname string
	Message  string
	WechatID string
	Avatar   string
	Sex      int
	Sign     string
}

type msgAttrs struct {
	BigHead      string `xml:"bigheadimgurl,attr"`
	SmallHead    string `xml:"smallheadimgurl,attr"`
	Nickname     string `xml:"nickname,attr"`
	FromNickname string `xml:"fromnickname,attr"`
	Content      string `xml:"content,attr"`
	Province     string `xml:"province,attr"`
	City         string `xml:"city,attr"`
	Alias        string `xml:"alias,attr"`
	Username     string `xml:"username,attr"`
	Sex          string `xml:"sex,attr"`
	Sign         string `xml:"sign,attr"`
}

func decodeXML(raw string, v any) error {
	doc := html.UnescapeString(raw)
	doc = brPattern.ReplaceAllString(doc, "\n")
	decoder := xml.NewDecoder(strings.NewReader(doc))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode xml: %w", err)
	}
	return nil
}

// ParseAppMsg parses an appmsg XML attachment.
func ParseAppMsg(raw string) (AppMsg, error) {
	var doc appMsgXML
	if err := decodeXML(raw, &doc); err != nil {
		return AppMsg{}, err
	}
	msg := AppMsg{
		Title: strings.TrimSpace(doc.AppMsg.Title),
		Desc:  strings.TrimSpace(doc.AppMsg.Des),
		URL:   strings.TrimSpace(doc.AppMsg.URL),
	}
	for _, item := range doc.AppMsg.MMReader.Category.Items {
		msg.Items = append(msg.Items, AppMsgItem{
			Title: strings.TrimSpace(item.Title),
			URL:   strings.TrimSpace(item.URL),
		})
	}
	if msg.Title == "" && msg.URL == "" && len(msg.Items) == 0 {
		return AppMsg{}, fmt.Errorf("appmsg has no content")
	}
	return msg, nil
}

func untrack(url string) string {
	return strings.Replace(url, "xtrack=1", "xtrack=0", 1)
}

// RenderAppMsg renders an appmsg as HTML. Official digests list every item.
func RenderAppMsg(msg AppMsg, official bool) string {
	if official && len(msg.Items) > 0 {
		var b strings.Builder
		for _, item := range msg.Items {
			b.WriteString(Link(htmlToText(item.Title), untrack(item.URL)))
			b.WriteString("\n\n")
		}
		return strings.TrimRight(b.String(), "\n")
	}
	out := Link(htmlToText(msg.Title), untrack(msg.URL))
	if desc := htmlToText(msg.Desc); desc != "" {
		out += "\n" + html.EscapeString(desc)
	}
	return out
}

func atoiOrZero(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// ParseContactCard parses a shared contact card.
func ParseContactCard(raw string) (ContactCard, error) {
	var attrs msgAttrs
	if err := decodeXML(raw, &attrs); err != nil {
		return ContactCard{}, err
	}
	card := ContactCard{
		Avatar:   firstNonEmpty(attrs.BigHead, attrs.SmallHead),
		Nickname: strings.TrimSpace(attrs.Nickname),
		Province: strings.TrimSpace(attrs.Province),
		City:     strings.TrimSpace(attrs.City),
		WechatID: firstNonEmpty(attrs.Alias, attrs.Username),
		Sex:      atoiOrZero(attrs.Sex),
	}
	if card.WechatID == "" && card.Nickname == "" && card.Avatar == "" {
		return ContactCard{}, fmt.Errorf("contact card has no content")
	}
	return card, nil
}

// ParseFriendApply parses a friend recommendation payload.
func ParseFriendApply(raw string) (FriendApply, error) {
	var attrs msgAttrs
	if err := decodeXML(raw, &attrs); err != nil {
		return FriendApply{}, err
	}
	apply := FriendApply{
		Nickname: strings.TrimSpace(attrs.FromNickname),
		Message:  strings.TrimSpace(attrs.Content),
		WechatID: firstNonEmpty(attrs.Alias, attrs.Username),
		Avatar:   firstNonEmpty(attrs.BigHead, attrs.SmallHead),
		Sex:      atoiOrZero(attrs.Sex),
		Sign:     strings.TrimSpace(attrs.Sign),
	}
	if apply.Message == "" {
		return FriendApply{}, fmt.Errorf("friend application has no message")
	}
	return apply, nil
}

// ContactCardCaption renders a contact card as plain caption text.
func ContactCardCaption(cat *locale.Catalog, card ContactCard, from string) string {
	return fmt.Sprintf("[%s]\n\n%s: %s\n%s: %s\n%s: %s\n%s: %s\n%s: %s\n----------------------------\n%s",
		cat.ContactCard,
		cat.Nickname, card.Nickname,
		cat.Gender, cat.GenderName(card.Sex),
		cat.Province, card.Province,
		cat.City, card.City,
		cat.WechatID, card.WechatID,
		from,
	)
}

// FriendApplyCaption renders a friend application as plain caption text.
func FriendApplyCaption(cat *locale.Catalog, apply FriendApply) string {
	return fmt.Sprintf("[%s]\n\n%s: %s\n%s: %s\n%s: %s\n%s: %s\n----------------------------\n%s",
		cat.ContactCard,
		cat.Nickname, apply.Nickname,
		cat.Gender, cat.GenderName(apply.Sex),
		cat.Applying, apply.Message,
		cat.WechatID, apply.WechatID,
		cat.FriendRequest,
	)
}
