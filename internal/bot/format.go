package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"odpbot/internal/geo"
	"odpbot/internal/models"
	"odpbot/internal/odp"
)

const (
	msgGenericFailure   = "❌ Terjadi kesalahan saat memproses permintaan Anda. Silakan coba lagi."
	msgNotRegistered    = "❌ Anda tidak terdaftar dalam sistem. Hubungi admin."
	msgNotPermitted     = "❌ Anda tidak memiliki izin untuk menambah data. Hubungi admin."
	msgStoreUnavailable = "❌ Gagal terhubung ke database. Silakan coba lagi nanti."
	msgUnknownCommand   = "Perintah tidak dikenal. Ketik /help untuk melihat daftar perintah."
	msgIdleHint         = "Ketik /add untuk menambah data atau /odp untuk mencari ODP terdekat. Ketik /help untuk bantuan."

	msgAskBusinessType = "🏭 Pilih Jenis Usaha:"
	msgAskAddress      = "🏠 Masukkan Alamat Usaha:"
	msgAskLocation     = "📍 Kirim link Google Maps atau share lokasi Anda:"
	msgAskPackage      = "⚡ Pilih Paket Internet:"
	msgAskPhoto        = "📸 Kirim foto lokasi usaha:"
	msgAskODPLocation  = "Silakan kirim link Google Maps atau share lokasi Anda untuk mencari ODP terdekat."

	msgInvalidAddress = "❌ Alamat tidak boleh kosong dan maksimal 500 karakter. Masukkan ulang alamat usaha:"
	msgUploadFailed   = "❌ Gagal upload foto. Silakan kirim ulang foto."
	msgSaveFailed     = "❌ Gagal menyimpan data ke spreadsheet. Data Anda masih tersimpan, tekan Coba Lagi untuk mengirim ulang."
	msgRetryPending   = "⚠️ Data sebelumnya belum tersimpan. Tekan Coba Lagi untuk mengirim ulang atau Batal untuk membuang."
	msgIncomplete     = "❌ Data belum lengkap (%s). Silakan mulai ulang dengan /add."
	msgCancelled      = "🚫 Input data dibatalkan."
	msgNothingToSave  = "Tidak ada data yang menunggu untuk disimpan. Ketik /add untuk mulai."

	msgLinkNotParsed = "❌ Gagal mengekstrak koordinat dari link. Kirim ulang lokasi Anda."
	msgODPLoadFailed = "❌ Gagal mengambil data ODP dari Google Sheets."
	msgODPNone       = "❌ Tidak ada data ODP dengan koordinat yang valid."
	msgNoRecords     = "Belum ada data yang Anda kirim."
)

// Telegram rejects messages longer than this many characters
const maxMessageLength = 4096

// Addresses in the /record list are cut to this many runes
const maxListedAddress = 80

const helpText = `Perintah yang tersedia:
/add - Tambah data usaha baru
/record - Lihat data yang sudah Anda kirim
/odp - Cari ODP terdekat
/cancel - Batalkan input data
/help - Tampilkan bantuan`

func formatWelcome(c models.UserCredentials) string {
	var text strings.Builder
	fmt.Fprintf(&text, "👋 Selamat datang, %s!\n\n", c.DisplayName)
	fmt.Fprintf(&text, "🆔 ID: %s\n", c.Identity)
	fmt.Fprintf(&text, "🏢 STO: %s\n", c.STO)
	if c.Witel != "" {
		fmt.Fprintf(&text, "🌐 Witel: %s\n", c.Witel)
	}
	if c.Telda != "" {
		fmt.Fprintf(&text, "📌 Telda: %s\n", c.Telda)
	}
	if c.Cluster != "" {
		fmt.Fprintf(&text, "🗂 Cluster: %s\n", c.Cluster)
	}
	text.WriteString("\n")
	text.WriteString(helpText)
	return text.String()
}

func formatCoordinates(d *models.UserData) string {
	if !d.HasCoordinates() {
		return "tidak terdeteksi"
	}
	return fmt.Sprintf("%.6f, %.6f", *d.Latitude, *d.Longitude)
}

func formatSTO(d *models.UserData) string {
	if d.STODetected {
		return d.STO + " (terdeteksi otomatis)"
	}
	return d.STO + " (STO akun)"
}

func writeFields(text *strings.Builder, d *models.UserData) {
	fmt.Fprintf(text, "🏭 Jenis Usaha: %s\n", d.BusinessType)
	fmt.Fprintf(text, "🏠 Alamat: %s\n", d.Address)
	fmt.Fprintf(text, "📍 Koordinat: %s\n", formatCoordinates(d))
	if d.MapsLink != "" {
		fmt.Fprintf(text, "🔗 Maps: %s\n", d.MapsLink)
	}
	fmt.Fprintf(text, "🏢 STO: %s\n", formatSTO(d))
	if d.ODPName != "" {
		fmt.Fprintf(text, "📡 ODP Terdekat: %s\n", d.ODPName)
	}
	fmt.Fprintf(text, "⚡ Paket: %s\n", d.Package)
	if d.PhotoURL != "" {
		fmt.Fprintf(text, "📸 Foto: %s\n", d.PhotoURL)
	}
}

func formatConfirmation(d *models.UserData) string {
	var text strings.Builder
	text.WriteString("📋 Ringkasan Data\n\n")
	writeFields(&text, d)
	text.WriteString("\nSimpan data ini?")
	return text.String()
}

func formatSummary(d *models.UserData) string {
	var text strings.Builder
	text.WriteString("✅ Data berhasil disimpan!\n\n")
	writeFields(&text, d)
	fmt.Fprintf(&text, "🕒 Waktu: %s", d.SubmittedAt.Format(models.TimestampLayout))
	return text.String()
}

func formatChannelNotice(d *models.UserData) string {
	var text strings.Builder
	name := d.DisplayName
	if name == "" {
		name = d.Identity
	}
	fmt.Fprintf(&text, "📥 Data baru dari %s (%s)\n\n", name, d.Identity)
	writeFields(&text, d)
	fmt.Fprintf(&text, "🕒 Waktu: %s", d.SubmittedAt.Format(models.TimestampLayout))
	return text.String()
}

func formatLocationAck(d *models.UserData, parsed bool) string {
	var text strings.Builder
	text.WriteString("📍 Lokasi diterima!\n")
	if !parsed {
		text.WriteString("⚠️ Koordinat tidak dapat dibaca dari pesan Anda.\n")
	}
	if d.STODetected {
		fmt.Fprintf(&text, "✅ STO terdeteksi otomatis: %s\n", d.STO)
		if d.ODPName != "" {
			fmt.Fprintf(&text, "📡 ODP terdekat: %s\n", d.ODPName)
		}
	} else {
		fmt.Fprintf(&text, "⚠️ STO tidak dapat terdeteksi, menggunakan STO akun Anda: %s\n", d.STO)
	}
	return strings.TrimRight(text.String(), "\n")
}

// formatRecords lists records with long addresses shortened; records that
// would push the reply past maxMessageLength are left out
func formatRecords(records []models.UserRecord, loc *time.Location) string {
	if len(records) == 0 {
		return msgNoRecords
	}

	const headerBudget = 64
	var lines []string
	size := headerBudget
	for i, r := range records {
		ts := "-"
		if !r.SubmittedAt.IsZero() {
			ts = r.SubmittedAt.In(loc).Format("2006-01-02 15:04")
		}
		line := fmt.Sprintf("%d. %s | %s | %s | STO %s | %s",
			i+1, ts, shorten(r.BusinessType, maxListedAddress), shorten(r.Address, maxListedAddress), r.STO, r.Package)
		size += utf8.RuneCountInString(line) + 1
		if size > maxMessageLength {
			break
		}
		lines = append(lines, line)
	}

	return fmt.Sprintf("📚 %d data terakhir Anda:\n\n%s", len(lines), strings.Join(lines, "\n"))
}

// shorten cuts s to at most n runes, marking the cut with an ellipsis
func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}

func formatDistance(km float64) string {
	return strconv.FormatFloat(km*1000, 'f', 2, 64) + " m"
}

func formatODPResults(lat, lon float64, matches []odp.Match) string {
	var text strings.Builder
	fmt.Fprintf(&text, "📍 Lokasi Anda: %.6f, %.6f\n", lat, lon)
	fmt.Fprintf(&text, "🔗 <a href=\"%s\">Lihat di Google Maps</a>\n\n", html.EscapeString(geo.MapsLink(lat, lon)))
	fmt.Fprintf(&text, "📡 %d ODP terdekat:\n\n", len(matches))
	for i, m := range matches {
		e := m.Entry
		fmt.Fprintf(&text, "%d. <b>%s</b> (STO %s) | %.6f,%.6f | %s | Port Tersedia: %s | <a href=\"%s\">Lihat di Maps</a>\n",
			i+1,
			html.EscapeString(e.Name),
			html.EscapeString(e.STO),
			e.Latitude, e.Longitude,
			formatDistance(m.DistanceKm),
			html.EscapeString(e.Available),
			html.EscapeString(geo.MapsLink(e.Latitude, e.Longitude)),
		)
	}
	return strings.TrimRight(text.String(), "\n")
}
