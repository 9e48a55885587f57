package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
)

type chatRepository struct {
	BaseRepository
}

func NewChatRepository(base BaseRepository) repository.ChatRepository {
	return &chatRepository{base}
}

func (r *chatRepository) GetChannel(ctx context.Context, id int64) (*model.ChatChannel, error) {
	var ch model.ChatChannel
	query := `SELECT id, patient_internal_id, org_id, created_at FROM chat_channels WHERE id = $1`
	if err := r.get(ctx, &ch, query, id); err != nil {
		return nil, notFound("chat channel", err)
	}
	return &ch, nil
}

func (r *chatRepository) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (channel_id, sender_internal_id, sender_role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()
	err := r.conn(ctx).QueryRowxContext(ctx, query,
		m.ChannelID, m.SenderInternalID, m.SenderRole, m.Content, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to create chat message: %w", mapError(err))
	}
	return nil
}

func (r *chatRepository) ListMessages(ctx context.Context, channelID int64, page model.Pagination) ([]*model.ChatMessage, error) {
	page = page.Normalize()
	query := `
		SELECT id, channel_id, sender_internal_id, sender_role, content, created_at
		FROM chat_messages
		WHERE channel_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`
	var msgs []*model.ChatMessage
	if err := r.selectAll(ctx, &msgs, query, channelID, page.PageSize, page.Offset()); err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", mapError(err))
	}
	return msgs, nil
}
