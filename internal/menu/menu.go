// Package menu holds the pure decision logic of the BOT-mode state
// machine: a static menu table plus a resolver that maps the user's
// current step and input to an ordered list of actions. It never touches
// storage or the gateway, so it stays unit-testable in isolation.
package menu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/model"
)

// Action is one step the processor applies in order
type Action interface {
	isAction()
}

// Reply sends text to the user and ledgers the attempt
type Reply struct {
	Text string
	Meta model.MessageMeta
}

// SetMode switches the user's mode; the store clears the selected menu
type SetMode struct {
	Mode string
}

// SetMenu sets or clears (nil) the user's selected menu step
type SetMenu struct {
	Menu *int
}

// ForwardSystem forwards a system notice to the CS operator channel
type ForwardSystem struct {
	Text string
	Meta model.MessageMeta
}

func (Reply) isAction()         {}
func (SetMode) isAction()       {}
func (SetMenu) isAction()       {}
func (ForwardSystem) isAction() {}

// Resolution is the resolver's verdict for one inbound message
type Resolution struct {
	Actions []Action
	Handled string
}

// EntryKind tags how a menu table entry behaves
type EntryKind int

const (
	EntryReply EntryKind = iota
	EntryReplyAndSetMenu
	EntryHumanHandoff
)

// Entry is one row of the static menu table
type Entry struct {
	ID    int
	Title string
	Kind  EntryKind
	Reply string
	Menu  int // step to select for EntryReplyAndSetMenu
}

// menuAwaitOrderNumber is the multi-turn step set by menu 1
const menuAwaitOrderNumber = 1

var entries = map[int]Entry{
	1: {
		ID:    1,
		Title: "Cek status pesanan",
		Kind:  EntryReplyAndSetMenu,
		Reply: "Siap kak. Kirim *nomor order* kamu ya (contoh: ORD12345 / 12345).",
		Menu:  menuAwaitOrderNumber,
	},
	2: {
		ID:    2,
		Title: "Jam operasional & alamat",
		Kind:  EntryReply,
		Reply: strings.Join([]string{
			"Jam operasional kami:",
			"🕘 Senin–Jumat: 09.00–18.00",
			"🕘 Sabtu: 09.00–15.00",
			"❌ Minggu/libur nasional: tutup",
			"",
			"Alamat:",
			"📍 Jl. Contoh No. 123, Jakarta (placeholder)",
			"",
			"Kalau mau tanya rute, sebutin area kak ya 😊",
		}, "\n"),
	},
	3: {
		ID:    3,
		Title: "Cara komplain",
		Kind:  EntryReply,
		Reply: strings.Join([]string{
			"Maaf ya kak kalau ada kendala 🙏",
			"Biar cepat, kakak bisa kirim format ini:",
			"- Nama:",
			"- Nomor order:",
			"- Keluhan singkat:",
			"- Foto/video (kalau ada):",
			"",
			"Catatan: jangan kirim OTP/password/nomor kartu ya kak 🙏",
		}, "\n"),
	},
	4: {
		ID:    4,
		Title: "Promo / info produk",
		Kind:  EntryReply,
		Reply: strings.Join([]string{
			"Untuk promo terbaru, fitur ini masih nyusul ya kak 😄",
			"Nanti bisa kita sambungkan ke katalog / API internal.",
			"",
			"Kalau kakak cari produk tertentu, sebutin kebutuhannya aja 😊",
		}, "\n"),
	},
	5: {
		ID:    5,
		Title: "Hubungi CS langsung",
		Kind:  EntryHumanHandoff,
		Reply: "Siap kak, aku sambungkan ke CS ya. Setelah ini kakak bisa chat seperti biasa 😊",
	},
}

var wholeNumberRe = regexp.MustCompile(`^\d+$`)

// MainMenuText is the full menu shown for "menu"/"0" and after a
// sensitive-content interception in BOT mode.
func MainMenuText() string {
	return strings.Join([]string{
		"Halo kak! Aku bot CS 😊",
		"",
		"Pilih menu ya:",
		"1️⃣ Cek status pesanan",
		"2️⃣ Jam operasional & alamat",
		"3️⃣ Cara komplain",
		"4️⃣ Promo / info produk",
		"5️⃣ Hubungi CS langsung",
		"",
		"Ketik angka 1-5, atau ketik *0* / *menu* buat lihat menu lagi.",
	}, "\n")
}

// ShortMenuText is the hint used for unrecognized input
func ShortMenuText() string {
	return "Kak, pilih angka menu ya 😊\n1-5 (ketik *0/menu* buat lihat daftar lengkap)"
}

// HandoffConfirmText is the reply sent when a user is handed to CS
func HandoffConfirmText() string {
	return entries[5].Reply
}

// Resolve maps (user state, input) to the actions the processor must
// apply, in priority order: menu command, in-progress order flow, menu
// number lookup, fallback.
func Resolve(user *model.User, rawText, lowerText string) Resolution {
	if lowerText == "menu" || lowerText == "0" {
		return Resolution{
			Handled: "menu",
			Actions: []Action{
				SetMenu{Menu: nil},
				Reply{Text: MainMenuText(), Meta: model.Meta(model.MetaMenu)},
			},
		}
	}

	if user.SelectedMenu != nil && *user.SelectedMenu == menuAwaitOrderNumber {
		orderNo := sanitizeOrderNo(rawText)
		reply := strings.Join([]string{
			fmt.Sprintf("Sip kak, aku coba cek order *%s* ya...", orderNo),
			"",
			"Untuk sekarang fitur cek otomatisnya masih disiapin 🙏",
			"Kalau urgent, kakak bisa pilih *5* buat hubungi CS langsung ya 😊",
		}, "\n")
		return Resolution{
			Handled: "order_placeholder",
			Actions: []Action{
				Reply{Text: reply, Meta: model.MessageMeta{Kind: model.MetaOrderPlaceholder, OrderNo: orderNo}},
				SetMenu{Menu: nil},
			},
		}
	}

	if menuNo, ok := parseMenuNumber(rawText); ok {
		entry, found := entries[menuNo]
		if !found {
			meta := model.MessageMeta{Kind: model.MetaInvalidMenuNumber}
			if menuNo >= 0 {
				meta.MenuID = &menuNo
			}
			return Resolution{
				Handled: "invalid_menu",
				Actions: []Action{
					Reply{Text: ShortMenuText(), Meta: meta},
				},
			}
		}
		return resolveEntry(user, entry)
	}

	fallback := strings.Join([]string{
		"Aku belum nangkep kak 😅",
		ShortMenuText(),
		"",
		"Ketik *0/menu* kalau mau lihat menu lengkap ya 😊",
	}, "\n")
	return Resolution{
		Handled: "fallback",
		Actions: []Action{
			Reply{Text: fallback, Meta: model.Meta(model.MetaFallback)},
		},
	}
}

func resolveEntry(user *model.User, entry Entry) Resolution {
	handled := fmt.Sprintf("menu_%d", entry.ID)

	switch entry.Kind {
	case EntryReplyAndSetMenu:
		step := entry.Menu
		return Resolution{
			Handled: handled,
			Actions: []Action{
				Reply{Text: entry.Reply, Meta: model.Meta(model.MetaBotReply)},
				SetMenu{Menu: &step},
			},
		}
	case EntryHumanHandoff:
		notice := fmt.Sprintf("(SYSTEM) User %s minta disambungkan ke CS.", user.WaNumber)
		return Resolution{
			Handled: handled,
			Actions: []Action{
				SetMode{Mode: model.ModeHuman},
				Reply{Text: entry.Reply, Meta: model.Meta(model.MetaBotReply)},
				ForwardSystem{Text: notice, Meta: model.Meta(model.MetaBotForward)},
			},
		}
	default:
		return Resolution{
			Handled: handled,
			Actions: []Action{
				Reply{Text: entry.Reply, Meta: model.Meta(model.MetaBotReply)},
				SetMenu{Menu: nil},
			},
		}
	}
}

// parseMenuNumber accepts only whole non-negative integers. Digit strings
// too large for int still count as menu numbers (marked -1) so the user
// gets the menu hint instead of the generic fallback.
func parseMenuNumber(text string) (int, bool) {
	if !wholeNumberRe.MatchString(text) {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return -1, true
	}
	return n, true
}

// sanitizeOrderNo strips formatting characters before interpolation into
// a bold span and bounds the length.
func sanitizeOrderNo(s string) string {
	s = strings.ReplaceAll(s, "*", "")
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
