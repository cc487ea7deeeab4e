package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/maryam-mebel/support-bot/internal/config"
	"github.com/maryam-mebel/support-bot/internal/kafka"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

// ReferralService — учёт рефералов и начисление бонусов за рубежи. Оценка
// рубежей идемпотентна: достигнутый рубеж помечается в профиле и повторно
// не начисляется, сколько бы раз оценка ни запускалась.
type ReferralService struct {
	db        *gorm.DB
	transport telegram.Transport
	producer  kafka.EventProducer
	cfg       *config.Config

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewReferralService(db *gorm.DB, transport telegram.Transport, producer kafka.EventProducer, cfg *config.Config) *ReferralService {
	return &ReferralService{
		db:        db,
		transport: transport,
		producer:  producer,
		cfg:       cfg,
		locks:     make(map[int64]*sync.Mutex),
	}
}

// lockFor — мьютекс на конкретного реферера: конкурентные записи рефералов
// одного пригласившего сериализуются, разных — идут параллельно.
func (s *ReferralService) lockFor(referrerID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[referrerID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[referrerID] = m
	}
	return m
}

// RecordReferral фиксирует приход нового пользователя по ссылке referrerID.
// Самоприглашение молча игнорируется; засчитывается только первый заход —
// повторный /start с чужой ссылкой ничего не меняет (created=false).
func (s *ReferralService) RecordReferral(ctx context.Context, newUser telegram.User, referrerID int64, created bool) error {
	if referrerID == 0 || referrerID == newUser.ID || !created {
		return nil
	}
	var referrer model.User
	if err := s.db.WithContext(ctx).First(&referrer, referrerID).Error; err != nil {
		// Ссылка от незарегистрированного пользователя — молча пропускаем.
		return nil
	}

	// Под замком только запись счётчика и транзакция рубежей; уведомления
	// уходят после разблокировки, чтобы зависший send не остановил учёт.
	lock := s.lockFor(referrerID)
	lock.Lock()
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", referrerID).
		Update("referral_count", gorm.Expr("referral_count + 1")).Error
	var reached []config.Milestone
	if err == nil {
		reached, err = s.evaluateLocked(ctx, referrerID)
	}
	lock.Unlock()
	if err != nil {
		return err
	}

	_, _ = s.transport.SendText(ctx, referrerID,
		fmt.Sprintf("🎉 Tabriklaymiz! Sizning havolangiz orqali yangi do'stingiz qo'shildi: %s", newUser.FirstName), nil)

	s.producer.Produce(ctx, kafka.EventReferralRecorded, map[string]interface{}{
		"referrer_id": referrerID, "new_user_id": newUser.ID,
	})
	s.notifyMilestones(ctx, referrerID, reached)
	return nil
}

// Evaluate пересчитывает рубежи реферера. Безопасна к повторному вызову.
func (s *ReferralService) Evaluate(ctx context.Context, referrerID int64) error {
	lock := s.lockFor(referrerID)
	lock.Lock()
	reached, err := s.evaluateLocked(ctx, referrerID)
	lock.Unlock()
	if err != nil {
		return err
	}
	s.notifyMilestones(ctx, referrerID, reached)
	return nil
}

func (s *ReferralService) evaluateLocked(ctx context.Context, referrerID int64) ([]config.Milestone, error) {
	var reached []config.Milestone
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u model.User
		if err := tx.First(&u, referrerID).Error; err != nil {
			return err
		}
		achieved := parseMilestoneSet(u.Milestones)
		totalBonus := 0
		for _, m := range s.cfg.Milestones {
			if u.ReferralCount < m.Threshold {
				break
			}
			if _, done := achieved[m.Threshold]; done {
				continue
			}
			achieved[m.Threshold] = struct{}{}
			totalBonus += m.Bonus
			reached = append(reached, m)
		}
		if totalBonus == 0 {
			return nil
		}
		// Бонус зачисляется в тот же счётчик: рубеж приближает следующий рубеж.
		return tx.Model(&model.User{}).
			Where("id = ?", referrerID).
			Updates(map[string]interface{}{
				"referral_count": gorm.Expr("referral_count + ?", totalBonus),
				"milestones":     joinMilestoneSet(achieved),
			}).Error
	})
	return reached, err
}

// notifyMilestones рассылает поздравления за взятые рубежи. Вызывается без
// замка реферера: транспортный вызов может висеть сколь угодно долго.
func (s *ReferralService) notifyMilestones(ctx context.Context, referrerID int64, reached []config.Milestone) {
	for _, m := range reached {
		_, sendErr := s.transport.SendText(ctx, referrerID,
			fmt.Sprintf("🏆 Ajoyib natija! Siz %d ta do'stingizni taklif qildingiz va qo'shimcha +%d bonus ball oldingiz!", m.Threshold, m.Bonus), nil)
		if sendErr != nil {
			log.Printf("referral: milestone notice %d to %d: %v", m.Threshold, referrerID, sendErr)
		}
		s.producer.Produce(ctx, kafka.EventReferralMilestone, map[string]interface{}{
			"referrer_id": referrerID, "threshold": m.Threshold, "bonus": m.Bonus,
		})
	}
}

// Leaderboard — первые n участников конкурса: больше баллов выше, при
// равенстве — кто раньше зарегистрировался.
func (s *ReferralService) Leaderboard(ctx context.Context, n int) ([]model.User, error) {
	if n <= 0 {
		n = 10
	}
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("referral_count > 0").
		Order("referral_count DESC, created_at ASC").
		Limit(n).
		Find(&users).Error
	return users, err
}

// Standing — позиция пользователя в конкурсе (1-based) и его баллы.
func (s *ReferralService) Standing(ctx context.Context, userID int64) (rank int, count int, err error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		return 0, 0, err
	}
	var ahead int64
	err = s.db.WithContext(ctx).Model(&model.User{}).
		Where("referral_count > ? OR (referral_count = ? AND created_at < ?)",
			u.ReferralCount, u.ReferralCount, u.CreatedAt).
		Count(&ahead).Error
	if err != nil {
		return 0, 0, err
	}
	return int(ahead) + 1, u.ReferralCount, nil
}

func parseMilestoneSet(s string) map[int]struct{} {
	out := make(map[int]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out[n] = struct{}{}
		}
	}
	return out
}

func joinMilestoneSet(set map[int]struct{}) string {
	keys := make([]int, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Itoa(k)
	}
	return strings.Join(parts, ",")
}
