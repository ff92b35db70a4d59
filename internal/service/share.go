package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"collaborative-codepad/internal/domain"
	"collaborative-codepad/internal/repository"
)

// 分享链接的有效期选项
var shareExpiryChoices = map[string]time.Duration{
	"15min": 15 * time.Minute,
	"1h":    time.Hour,
	"24h":   24 * time.Hour,
	"7d":    7 * 24 * time.Hour,
}

// 受保护分享在密码验证通过后签发的访问令牌有效期。
// 令牌让客户端刷新页面时不必重新输入密码。
const shareTokenTTL = time.Hour

// ShareService 负责限时代码分享的业务逻辑。
type ShareService struct {
	shareRepo repository.ShareRepository
	roomSvc   *RoomService // fork 路径需要创建新房间
	jwtSecret []byte
}

// NewShareService 创建 ShareService 实例。
func NewShareService(shareRepo repository.ShareRepository, roomSvc *RoomService, jwtSecretKey string) (*ShareService, error) {
	if shareRepo == nil {
		panic("ShareRepository cannot be nil for ShareService")
	}
	if roomSvc == nil {
		panic("RoomService cannot be nil for ShareService")
	}
	if jwtSecretKey == "" {
		return nil, fmt.Errorf("JWT secret key cannot be empty")
	}
	return &ShareService{
		shareRepo: shareRepo,
		roomSvc:   roomSvc,
		jwtSecret: []byte(jwtSecretKey),
	}, nil
}

// CreateShare 创建一个限时分享。
// expiry 必须是 15min/1h/24h/7d 之一；password 非空时片段受密码保护，
// 存储的是 bcrypt 哈希，绝不落明文。
func (s *ShareService) CreateShare(ctx context.Context, code, expiry, password string) (*domain.CodeShare, error) {
	logCtx := logrus.WithField("expiry", expiry)

	if code == "" {
		return nil, ErrInvalidInput
	}
	ttl, ok := shareExpiryChoices[expiry]
	if !ok {
		return nil, ErrInvalidInput
	}

	linkID, err := s.generateUniqueLinkID(ctx)
	if err != nil {
		logCtx.WithError(err).Error("CreateShare: failed to generate link id")
		return nil, ErrInternalServer
	}

	share := &domain.CodeShare{
		LinkID:    linkID,
		Code:      code,
		ExpiresAt: time.Now().Add(ttl),
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logCtx.WithError(err).Error("CreateShare: failed to hash password")
			return nil, ErrInternalServer
		}
		share.IsProtected = true
		share.Password = string(hash)
	}

	if err := s.shareRepo.Save(ctx, share); err != nil {
		logCtx.WithError(err).Error("CreateShare: failed to save share")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"link_id": linkID, "protected": share.IsProtected}).Info("Share created")
	return share, nil
}

// GetShare 获取分享。返回值 authorized 表示调用方有权看到代码：
// 非保护分享恒为 true，受保护分享仅当 accessToken 有效时为 true。
// 未知链接返回 ErrShareNotFound，过期链接返回 ErrShareExpired
// （两者对客户端是不同的状态，过期要渲染成 "expired" 而非 404）。
func (s *ShareService) GetShare(ctx context.Context, linkID, accessToken string) (*domain.CodeShare, bool, error) {
	share, err := s.loadLiveShare(ctx, linkID)
	if err != nil {
		return nil, false, err
	}

	authorized := !share.IsProtected
	if share.IsProtected && accessToken != "" {
		authorized = s.validateShareToken(accessToken, linkID)
	}
	return share, authorized, nil
}

// VerifyPassword 校验受保护分享的密码。
// 成功时返回代码和一个短期访问令牌；密码错误返回 ErrShareUnauthorized。
func (s *ShareService) VerifyPassword(ctx context.Context, linkID, password string) (string, string, error) {
	share, err := s.loadLiveShare(ctx, linkID)
	if err != nil {
		return "", "", err
	}
	if !share.IsProtected {
		// 非保护分享不需要验证，直接放行
		return share.Code, "", nil
	}

	if bcrypt.CompareHashAndPassword([]byte(share.Password), []byte(password)) != nil {
		logrus.WithField("link_id", linkID).Warn("Share password verification failed")
		return "", "", ErrShareUnauthorized
	}

	token, err := s.generateShareToken(linkID)
	if err != nil {
		logrus.WithError(err).WithField("link_id", linkID).Error("VerifyPassword: failed to sign access token")
		return "", "", ErrInternalServer
	}
	return share.Code, token, nil
}

// ForkShare 把分享的片段 fork 成一个全新房间，返回新房间 ID。
// 受保护的分享要求携带有效访问令牌。
func (s *ShareService) ForkShare(ctx context.Context, linkID, accessToken string) (string, error) {
	share, err := s.loadLiveShare(ctx, linkID)
	if err != nil {
		return "", err
	}
	if share.IsProtected && !s.validateShareToken(accessToken, linkID) {
		return "", ErrShareUnauthorized
	}

	roomID, err := s.roomSvc.CreateRoomWithCode(ctx, share.Code)
	if err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{"link_id": linkID, "room_id": roomID}).Info("Share forked into new room")
	return roomID, nil
}

// PurgeExpired 删除所有过期分享，返回删除数量。由后台周期任务调用。
func (s *ShareService) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := s.shareRepo.DeleteExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge expired shares: %w", err)
	}
	return count, nil
}

// loadLiveShare 加载分享并区分未知/过期两种失败。
func (s *ShareService) loadLiveShare(ctx context.Context, linkID string) (*domain.CodeShare, error) {
	share, err := s.shareRepo.FindByLinkID(ctx, linkID)
	if err != nil {
		if errors.Is(err, repository.ErrShareNotFound) {
			return nil, ErrShareNotFound
		}
		logrus.WithError(err).WithField("link_id", linkID).Error("loadLiveShare: repository error")
		return nil, ErrInternalServer
	}
	if share.Expired(time.Now()) {
		return nil, ErrShareExpired
	}
	return share, nil
}

// generateShareToken 为指定链接签发 HS256 访问令牌
func (s *ShareService) generateShareToken(linkID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"link_id": linkID,
		"exp":     time.Now().Add(shareTokenTTL).Unix(),
		"iat":     time.Now().Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// validateShareToken 校验访问令牌是否有效且属于该链接
func (s *ShareService) validateShareToken(tokenStr, linkID string) bool {
	if tokenStr == "" {
		return false
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false
	}
	claimed, _ := claims["link_id"].(string)
	return claimed == linkID
}

// generateUniqueLinkID 生成唯一的 8 位链接 ID
func (s *ShareService) generateUniqueLinkID(ctx context.Context) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const idLength = 8
	const maxAttempts = 10

	b := make([]byte, idLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		id := string(b)

		exists, err := s.shareRepo.IsLinkIDExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("database error checking link id: %w", err)
		}
		if !exists {
			return id, nil
		}
		logrus.WithField("link_id", id).Warnf("Generated link id already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique link id after %d attempts", maxAttempts)
}
