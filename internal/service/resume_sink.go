package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/maryam-mebel/support-bot/internal/telegram"
	"github.com/maryam-mebel/support-bot/internal/wizard"
)

// ResumeSink передаёт заполненные анкеты работодателю (best-effort, не
// блокирует диалог). Если employerID не задан, вызовы Submit — no-op.
type ResumeSink struct {
	transport  telegram.Transport
	employerID int64
}

func NewResumeSink(transport telegram.Transport, employerID int64) *ResumeSink {
	return &ResumeSink{transport: transport, employerID: employerID}
}

// Submit отправляет анкету работодателю текстовым файлом. Сбой логируется,
// кандидату об этом не сообщается.
func (s *ResumeSink) Submit(ctx context.Context, candidate telegram.User, fields map[string]string) {
	if s.employerID == 0 {
		return
	}
	doc := renderResume(candidate, fields)
	name := fmt.Sprintf("anketa_%d_%s.txt", candidate.ID, time.Now().Format("20060102_150405"))
	if err := s.transport.SendDocument(ctx, s.employerID, []byte(doc), name,
		fmt.Sprintf("📄 Yangi nomzod anketasi: %s", fields[wizard.FieldName])); err != nil {
		log.Printf("resume: submit candidate %d: %v", candidate.ID, err)
	}
}

// SubmitAsync вызывает Submit в отдельной горутине (не блокирует диалог бота).
func (s *ResumeSink) SubmitAsync(candidate telegram.User, fields map[string]string) {
	if s.employerID == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Submit(ctx, candidate, fields)
	}()
}

func renderResume(candidate telegram.User, fields map[string]string) string {
	rows := []struct{ label, field string }{
		{"F.I.Sh.", wizard.FieldName},
		{"Telefon", wizard.FieldPhone},
		{"Hudud", wizard.FieldRegion},
		{"Ko'nikmalar", wizard.FieldSkills},
		{"Qiziqishlar", wizard.FieldInterests},
		{"Lavozim", wizard.FieldPosition},
		{"Holati", wizard.FieldStatus},
		{"Nima uchun biz", wizard.FieldReason},
	}
	var b strings.Builder
	b.WriteString("=== NOMZOD ANKETASI ===\n")
	fmt.Fprintf(&b, "Telegram: @%s (id %d)\n", candidate.Username, candidate.ID)
	fmt.Fprintf(&b, "Sana: %s\n\n", time.Now().Format("2006-01-02 15:04"))
	for _, r := range rows {
		fmt.Fprintf(&b, "%s: %s\n", r.label, fields[r.field])
	}
	return b.String()
}
