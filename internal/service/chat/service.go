package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/jwalitptl/caregem-api/internal/model"
	"github.com/jwalitptl/caregem-api/internal/repository"
	"github.com/jwalitptl/caregem-api/internal/service/access"
	"github.com/jwalitptl/caregem-api/internal/service/audit"
	"github.com/jwalitptl/caregem-api/pkg/errors"
	"github.com/jwalitptl/caregem-api/pkg/logger"
	"github.com/jwalitptl/caregem-api/pkg/security"
)

// SecretSource yields the secret the message key is derived from. The
// secrets store caches it.
type SecretSource interface {
	Get(ctx context.Context, id string) (string, error)
}

type ChatServicer interface {
	Send(ctx context.Context, caller *model.Caller, channelID int64, content string) (*model.ChatMessage, error)
	List(ctx context.Context, caller *model.Caller, channelID int64, page model.Pagination) ([]*model.ChatMessage, error)
}

type Service struct {
	repo     repository.ChatRepository
	users    repository.UserRepository
	policy   access.Policy
	names    audit.NameResolver
	secrets  SecretSource
	secretID string
	auditor  *audit.Service
	logger   *logger.Logger
}

func NewService(repo repository.ChatRepository, users repository.UserRepository, policy access.Policy, names audit.NameResolver, secrets SecretSource, secretID string, auditor *audit.Service, logger *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		users:    users,
		policy:   policy,
		names:    names,
		secrets:  secrets,
		secretID: secretID,
		auditor:  auditor,
		logger:   logger,
	}
}

func (s *Service) encryptor(ctx context.Context) (security.Encryptor, error) {
	secret, err := s.secrets.Get(ctx, s.secretID)
	if err != nil {
		return nil, err
	}
	enc, err := security.NewCBCEncryptor(security.MessageKey(secret))
	if err != nil {
		return nil, errors.Internal(err)
	}
	return enc, nil
}

// channel loads the channel and checks action on its patient. Outside
// super-admin the caller must act in the channel's org.
func (s *Service) channel(ctx context.Context, caller *model.Caller, channelID int64, action model.Action) (*model.ChatChannel, error) {
	ch, err := s.repo.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Require(ctx, caller, ch.PatientInternalID, action); err != nil {
		return nil, err
	}
	if !caller.IsSuperAdmin() && caller.OrgID != ch.OrgID {
		return nil, errors.Forbidden(errors.ReasonForeignOrg, "")
	}
	return ch, nil
}

// Send stores content encrypted and returns the message in plaintext.
func (s *Service) Send(ctx context.Context, caller *model.Caller, channelID int64, content string) (msg *model.ChatMessage, err error) {
	target := model.Target{ID: fmt.Sprint(channelID), Role: "chat_channel"}
	defer func() { s.auditor.Failure(ctx, caller, model.AuditActionChatMessageSend, target, err) }()

	if strings.TrimSpace(content) == "" {
		return nil, errors.BadRequest("message content is required", nil)
	}
	if _, err := s.channel(ctx, caller, channelID, model.ActionWriteClinical); err != nil {
		return nil, err
	}

	enc, err := s.encryptor(ctx)
	if err != nil {
		return nil, err
	}
	ciphertext, err := security.EncryptString(enc, content)
	if err != nil {
		return nil, errors.Internal(err)
	}

	stored := &model.ChatMessage{
		ChannelID:        channelID,
		SenderInternalID: caller.InternalID,
		SenderRole:       caller.Kind.String(),
		Content:          ciphertext,
	}
	if err := s.repo.CreateMessage(ctx, stored); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	if err := s.auditor.Record(ctx, caller, model.AuditActionChatMessageSend, target, fmt.Sprintf("message_id=%d", stored.ID)); err != nil {
		return nil, err
	}

	out := *stored
	out.Content = content
	return &out, nil
}

// List returns the channel's messages decrypted and with sender names when
// the PHI store can supply them.
func (s *Service) List(ctx context.Context, caller *model.Caller, channelID int64, page model.Pagination) ([]*model.ChatMessage, error) {
	if _, err := s.channel(ctx, caller, channelID, model.ActionReadClinical); err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, channelID, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if len(msgs) == 0 {
		return []*model.ChatMessage{}, nil
	}

	enc, err := s.encryptor(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		plain, err := security.DecryptString(enc, m.Content)
		if err != nil {
			return nil, errors.Internal(fmt.Errorf("message %d: %w", m.ID, err))
		}
		m.Content = plain
	}

	s.decorate(ctx, msgs)
	return msgs, nil
}

func (s *Service) decorate(ctx context.Context, msgs []*model.ChatMessage) {
	type sender struct {
		kind model.UserKind
		id   int64
	}
	externalIDs := map[sender]string{}
	for _, m := range msgs {
		kind, err := model.ParseUserKind(m.SenderRole)
		if err != nil {
			continue
		}
		key := sender{kind, m.SenderInternalID}
		if _, seen := externalIDs[key]; seen {
			continue
		}
		externalIDs[key] = ""
		u, err := s.users.GetUser(ctx, kind, m.SenderInternalID)
		if err != nil {
			s.logger.Debug("chat sender not resolved", "kind", kind.String(), "internal_id", m.SenderInternalID)
			continue
		}
		externalIDs[key] = u.ExternalID
	}

	ids := make([]string, 0, len(externalIDs))
	for _, ext := range externalIDs {
		if ext != "" {
			ids = append(ids, ext)
		}
	}
	names := s.names.DisplayNames(ctx, ids)
	for _, m := range msgs {
		kind, _ := model.ParseUserKind(m.SenderRole)
		m.SenderName = names[externalIDs[sender{kind, m.SenderInternalID}]]
	}
}
