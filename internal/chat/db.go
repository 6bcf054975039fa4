package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"vderm-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SQLite only supports one writer at a time, so we need a lock
// whenever we write to the database
var dbMutex sync.Mutex

func withWriteLock(fn func() error) error {
	dbMutex.Lock()
	defer dbMutex.Unlock()
	return fn()
}

func getConversation(ctx context.Context, db *gorm.DB, id uuid.UUID) (database.Conversation, error) {
	var conv database.Conversation
	if err := db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conv, ErrNotFound
		}
		return conv, err
	}
	return conv, nil
}

func listConversations(ctx context.Context, db *gorm.DB, userId string, limit, offset int) ([]database.Conversation, error) {
	var convs []database.Conversation
	err := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("update_time DESC").
		Limit(limit).
		Offset(offset).
		Find(&convs).Error
	return convs, err
}

func createConversation(ctx context.Context, db *gorm.DB, conv *database.Conversation, seed *database.Message) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Diagnosis", "Messages").Create(conv).Error; err != nil {
				return err
			}
			if seed != nil {
				return tx.Create(seed).Error
			}
			return nil
		})
	})
}

func updateConversationTitle(ctx context.Context, db *gorm.DB, id uuid.UUID, title string) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Model(&database.Conversation{}).Where("id = ?", id).Update("title", title).Error
	})
}

func deleteConversation(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&database.Message{}, "conversation_id = ?", id).Error; err != nil {
				return err
			}
			return tx.Delete(&database.Conversation{}, "id = ?", id).Error
		})
	})
}

func getMessages(ctx context.Context, db *gorm.DB, conversationId uuid.UUID) ([]database.Message, error) {
	var messages []database.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("timestamp ASC").
		Find(&messages).Error
	return messages, err
}

func saveMessage(ctx context.Context, db *gorm.DB, msg *database.Message) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Create(msg).Error
	})
}

func deleteMessage(ctx context.Context, db *gorm.DB, id uuid.UUID) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Delete(&database.Message{}, "id = ?", id).Error
	})
}

// saveReply stores the assistant message and moves the conversation's update
// time (and optionally its title) forward in one transaction.
func saveReply(ctx context.Context, db *gorm.DB, msg *database.Message, title string) error {
	return withWriteLock(func() error {
		return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(msg).Error; err != nil {
				return err
			}
			updates := map[string]any{"update_time": msg.Timestamp}
			if title != "" {
				updates["title"] = title
			}
			return tx.Model(&database.Conversation{}).Where("id = ?", msg.ConversationId).Updates(updates).Error
		})
	})
}

func lastMessageTime(ctx context.Context, db *gorm.DB, conversationId uuid.UUID) (time.Time, error) {
	var last database.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationId).
		Order("timestamp DESC").
		Limit(1).
		Find(&last).Error
	return last.Timestamp, err
}
