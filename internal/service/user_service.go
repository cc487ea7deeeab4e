package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maryam-mebel/support-bot/internal/errs"
	"github.com/maryam-mebel/support-bot/internal/model"
	"github.com/maryam-mebel/support-bot/internal/telegram"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Upsert создаёт запись при первом контакте (INSERT .. ON CONFLICT DO NOTHING);
// повторный /start существующую запись не трогает.
func (s *UserService) Upsert(ctx context.Context, tg telegram.User, referrerID *int64) (created bool, err error) {
	u := &model.User{
		ID:        tg.ID,
		FirstName: tg.FirstName,
		Username:  tg.Username,
		Status:    model.UserStatusActive,
		ReferrerID: func() *int64 {
			if referrerID != nil && *referrerID != tg.ID {
				return referrerID
			}
			return nil
		}(),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(u)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *UserService) ByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *UserService) SetNote(ctx context.Context, id int64, note string) error {
	return s.update(ctx, id, map[string]interface{}{"note": note})
}

func (s *UserService) SetVIP(ctx context.Context, id int64, vip bool) error {
	return s.update(ctx, id, map[string]interface{}{"vip": vip})
}

func (s *UserService) SetStatus(ctx context.Context, id int64, status model.UserStatus) error {
	return s.update(ctx, id, map[string]interface{}{"status": status})
}

func (s *UserService) update(ctx context.Context, id int64, changes map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.ErrUserNotFound
	}
	return nil
}

// ActiveUserIDs — получатели рассылки; заблокировавшие бота помечены blocked и пропускаются.
func (s *UserService) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("status = ?", model.UserStatusActive).
		Order("created_at ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// ProfileText — краткий профиль для карточки тикета у админа: число обращений,
// дата последнего, VIP-отметка, заметка.
func (s *UserService) ProfileText(ctx context.Context, id int64) (string, error) {
	u, err := s.ByID(ctx, id)
	if err != nil {
		return "", err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).
		Where("user_id = ?", id).Count(&count).Error; err != nil {
		return "", err
	}
	lastText := "N/A"
	if count > 0 {
		var last model.Ticket
		err := s.db.WithContext(ctx).
			Where("user_id = ?", id).
			Order("created_at DESC").
			First(&last).Error
		if err != nil {
			return "", err
		}
		lastText = last.CreatedAt.Format("2006-01-02")
	}
	status := "Oddiy"
	if u.VIP {
		status = "⭐ VIP"
	}
	profile := fmt.Sprintf(
		"👤 <b>Foydalanuvchi Profili</b>\n- <b>Ismi:</b> <a href='tg://user?id=%d'>%s</a>\n- <b>Murojaatlar soni:</b> %d\n- <b>Oxirgi murojaat:</b> %s\n- <b>Statusi:</b> %s\n",
		u.ID, u.FirstName, count, lastText, status,
	)
	if u.Note != "" {
		profile += fmt.Sprintf("- <b>Eslatma:</b> <i>%s</i>\n", u.Note)
	}
	return profile, nil
}
