// Package locale holds the user-facing strings sent to the tenant chat.
package locale

import "strings"

const (
	ZhCN = "zh_CN"
	EnUS = "en_US"
)

// Catalog is one language's string table. Fields ending in a format verb are
// used with fmt.Sprintf.
type Catalog struct {
	Welcome string
	Help    string

	LoginRequest string
	Logined      string // %s name
	Logouted     string // %s name
	Retry        string
	Bye          string
	Stopped      string
	LoginTimeout string
	LoginError   string
	SessionOK    string
	SessionLost  string
	NoSession    string
	Recovering   string

	ContactNotFound  string
	ContactFound     string // %s name
	ContactLocked    string // %s name
	ContactUnlocked  string // %s name
	LockedMark       string
	NoCurrentContact string
	Current          string // %s name
	NoQuoteMessage   string
	MuteRoom         string // %s name
	UnmuteRoom       string // %s names
	SoundOnlyRoom    string // %s name
	NameOnly         string // %s name
	MsgForward       string // %s name
	SendingSucceed   string // %s name
	SendingFailed    string
	MsgNotSupported  string
	NotSupportedMsg  string
	FileTooLarge     string
	InviteRoom       string // %s inviter, %s topic
	NoRoomInvitation string
	RoomAccepted     string // %s topic
	QuitRoom         string // %s topic
	NotGroup         string
	OK               string

	FriendRequest   string
	NoPendingFriend string
	AgreeUsage      string
	DisagreeUsage   string
	FindUsage       string
	AgreeButton     string
	IgnoreButton    string

	ContactCard string
	Nickname    string
	Gender      string
	Province    string
	City        string
	WechatID    string
	Applying    string
	Genders     [3]string

	BotAlert    string
	BotStopping string
}

var zhCN = Catalog{
	Welcome: "欢迎使用",
	Help: `命令说明:
/start - 启动会话
/login - 请求登录
/logout - 登出WeChat
/stop - 停止接收消息
/groupon - 开启接收群消息
/groupoff - 关闭接收群消息
/officialon - 开启接收公众号消息（不推荐）
/officialoff - 关闭接收公众号消息
/selfon - 开启接收自己的消息
/selfoff - 关闭接收自己的消息
/find - 查找联系人并设置为当前联系人 [/find 昵称|备注]
/lock - 锁定当前联系人
/unlock - 取消锁定当前联系人
/findandlock - 查找并锁定为当前联系人 [/findandlock 昵称|备注]
/current - 显示当前联系人
/agree - 同意好友请求 [/agree 昵称]
/disagree - 忽略好友请求 [/disagree 昵称]
/acceptroom - 接受最近一次群邀请
/forward - 转发引用的消息 [/forward 昵称|备注]
/mute - 屏蔽引用消息所在的群或当前联系人
/unmute - 取消屏蔽 [/unmute 名称]
/soundonly - 该群只接收语音消息
/nameonly - 该群只接收引用消息发送者的消息
/quitroom - 退出引用消息所在的群或当前群
/uptime - 显示运行时间
/help - 显示帮助`,

	LoginRequest: "正在请求 WeChat 登录二维码，请稍等",
	Logined:      "%s 已经登陆",
	Logouted:     "%s 已登出",
	Retry:        "请扫描二维码",
	Bye:          "Bye",
	Stopped:      "已停止接收消息，/login 恢复",
	LoginTimeout: "登录超时，Bye",
	LoginError:   "WeChat 连接出错",
	SessionOK:    "WeChat 会话已恢复",
	SessionLost:  "WeChat 会话已失效，请重新 /login",
	NoSession:    "请先 /login",
	Recovering:   "正在恢复会话，请稍后再 /login",

	ContactNotFound:  "未找到联系人",
	ContactFound:     "%s 已是当前联系人",
	ContactLocked:    "%s 已锁定",
	ContactUnlocked:  "%s 已取消锁定",
	LockedMark:       "已锁定",
	NoCurrentContact: "无当前联系人",
	Current:          "当前联系人 %s",
	NoQuoteMessage:   "请引用一条消息",
	MuteRoom:         "%s 已屏蔽",
	UnmuteRoom:       "%s 已取消屏蔽",
	SoundOnlyRoom:    "%s 仅接收语音",
	NameOnly:         "仅接收 %s 的消息",
	MsgForward:       "已转发给 %s",
	SendingSucceed:   "已发送给 %s",
	SendingFailed:    "发送失败",
	MsgNotSupported:  "不支持该消息类型",
	NotSupportedMsg:  "[不支持的消息类型，请在手机上查看]",
	FileTooLarge:     "文件过大",
	InviteRoom:       "%s 邀请你加入 %s",
	NoRoomInvitation: "没有待处理的群邀请",
	RoomAccepted:     "已加入 %s",
	QuitRoom:         "已退出 %s",
	NotGroup:         "当前联系人不是群",
	OK:               "OK",

	FriendRequest:   "好友请求",
	NoPendingFriend: "没有待处理的好友请求",
	AgreeUsage:      "/agree 昵称",
	DisagreeUsage:   "/disagree 昵称",
	FindUsage:       "/find 昵称|备注",
	AgreeButton:     "同意",
	IgnoreButton:    "忽略",

	ContactCard: "名片",
	Nickname:    "昵称",
	Gender:      "性别",
	Province:    "省份",
	City:        "城市",
	WechatID:    "微信号",
	Applying:    "验证消息",
	Genders:     [3]string{"未知", "男", "女"},

	BotAlert:    "[Bot Alert]",
	BotStopping: "Bot 即将停止运行",
}

var enUS = Catalog{
	Welcome: "Welcome, I'm a wechat message transferring bot.",
	Help: `Command reference:
/start - Start bot
/login - Login Wechat
/logout - Logout Wechat
/stop - Stop receiving messages
/groupon - Receive group messages
/groupoff - Stop receiving group messages
/officialon - Receive official account messages
/officialoff - Stop receiving official account messages
/selfon - Receive self messages
/selfoff - Stop receiving self messages
/find - Find a contact and make it current [/find name|alias]
/lock - Lock the current contact
/unlock - Unlock the current contact
/findandlock - Find and lock a contact [/findandlock name|alias]
/current - Show the current contact
/agree - Accept a friend request [/agree name]
/disagree - Ignore a friend request [/disagree name]
/acceptroom - Accept the last group invitation
/forward - Forward the quoted message [/forward name|alias]
/mute - Mute the quoted group or the current contact
/unmute - Unmute [/unmute name]
/soundonly - Only receive voice messages from the group
/nameonly - Only receive the quoted sender's messages in the group
/quitroom - Quit the quoted or current group
/uptime - Show uptime
/help - Show this help page`,

	LoginRequest: "I'm requesting the Wechat QRCode for you, please wait a moment",
	Logined:      "Congratulations! %s has logined",
	Logouted:     "%s has logouted",
	Retry:        "Please scan the QRCode and try again",
	Bye:          "Bye",
	Stopped:      "Stopped receiving messages, /login to resume",
	LoginTimeout: "Login timeout, bye",
	LoginError:   "Wechat connection error",
	SessionOK:    "Wechat session restored",
	SessionLost:  "Wechat session lost, please /login again",
	NoSession:    "Please /login first",
	Recovering:   "Sessions are being restored, please /login again shortly",

	ContactNotFound:  "Contact not found",
	ContactFound:     "%s is current contact",
	ContactLocked:    "%s is locked",
	ContactUnlocked:  "%s is unlocked",
	LockedMark:       "locked",
	NoCurrentContact: "No current contact",
	Current:          "Current contact: %s",
	NoQuoteMessage:   "Please quote a message",
	MuteRoom:         "%s is muted",
	UnmuteRoom:       "%s is unmuted",
	SoundOnlyRoom:    "%s only relays voice messages",
	NameOnly:         "Only relaying messages from %s",
	MsgForward:       "Forwarded to %s",
	SendingSucceed:   "Sent to %s",
	SendingFailed:    "Sending failed",
	MsgNotSupported:  "This message type is not supported",
	NotSupportedMsg:  "[Unsupported message, please check it on your phone]",
	FileTooLarge:     "File is too large",
	InviteRoom:       "%s invites you to join %s",
	NoRoomInvitation: "No pending group invitation",
	RoomAccepted:     "Joined %s",
	QuitRoom:         "Quit %s",
	NotGroup:         "Current contact is not a group",
	OK:               "OK",

	FriendRequest:   "Friend Request",
	NoPendingFriend: "No pending friend request",
	AgreeUsage:      "/agree name",
	DisagreeUsage:   "/disagree name",
	FindUsage:       "/find name|alias",
	AgreeButton:     "Agree",
	IgnoreButton:    "Ignore",

	ContactCard: "Contact Card",
	Nickname:    "Nickname",
	Gender:      "Gender",
	Province:    "Province",
	City:        "City",
	WechatID:    "Wechat ID",
	Applying:    "Message",
	Genders:     [3]string{"Unknown", "Male", "Female"},

	BotAlert:    "[Bot Alert]",
	BotStopping: "Bot is stopping",
}

// Get returns the catalog for lang, falling back to zh_CN.
func Get(lang string) *Catalog {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "-", "_")) {
	case "en_us", "en":
		c := enUS
		return &c
	default:
		c := zhCN
		return &c
	}
}

// GenderName maps the numeric sex code (0 unknown, 1 male, 2 female).
func (c *Catalog) GenderName(code int) string {
	if code < 0 || code >= len(c.Genders) {
		code = 0
	}
	return c.Genders[code]
}
