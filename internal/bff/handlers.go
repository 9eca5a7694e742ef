package bff

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bff/internal/auth"
	"github.com/nao1215/bff/internal/dataservice"
	"github.com/nao1215/bff/internal/logger"
	"github.com/nao1215/bff/pkg/httpclient"
)

// FullProfile はユーザー情報とお気に入り・参加予定をまとめたレスポンス。
type FullProfile struct {
	User         dataservice.User `json:"user"`
	LikedArtists json.RawMessage  `json:"likedArtists"`
	LikedHosts   json.RawMessage  `json:"likedHosts"`
	Attending    json.RawMessage  `json:"attending"`
}

// handleLogout はトークンをキャッシュから削除するハンドラを返す。
// キャッシュの削除に失敗してもクライアントには成功を返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(s.cfg.TokenHeader)
		if token == "" {
			auth.RespondMissingToken(c, s.cfg.StrictStatus)
			return
		}

		if err := s.cache.Delete(c.Request.Context(), token); err != nil {
			logger.From(c.Request.Context()).Warn("ログアウト時のキャッシュ削除に失敗", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// handleProfile はログイン中のユーザー情報を返すハンドラを返す。
// データサービスに登録されていなければ作成する。
func (s *Server) handleProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := auth.RecordFrom(c)
		if !ok {
			auth.RespondMissingToken(c, s.cfg.StrictStatus)
			return
		}
		ctx := httpclient.WithSubject(c.Request.Context(), rec.Email)

		user, err := s.data.FindUser(ctx, rec.Email)
		if errors.Is(err, dataservice.ErrUserNotFound) {
			logger.From(ctx).Info("ユーザーを作成", zap.String("email", rec.Email))
			user, err = s.data.CreateUser(ctx, rec.Email, rec.Name)
		}
		if err != nil {
			respondUpstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// handleFullProfile はユーザー情報とお気に入り・参加予定を並行に取得して返すハンドラを返す。
func (s *Server) handleFullProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := auth.RecordFrom(c)
		if !ok {
			auth.RespondMissingToken(c, s.cfg.StrictStatus)
			return
		}
		email := rec.Email

		var resp FullProfile
		g, ctx := errgroup.WithContext(httpclient.WithSubject(c.Request.Context(), email))
		g.Go(func() error {
			user, err := s.data.FindUser(ctx, email)
			if errors.Is(err, dataservice.ErrUserNotFound) {
				return nil
			}
			resp.User = user
			return err
		})
		g.Go(func() (err error) {
			resp.LikedArtists, err = s.data.LikedArtists(ctx, email)
			return err
		})
		g.Go(func() (err error) {
			resp.LikedHosts, err = s.data.LikedHosts(ctx, email)
			return err
		})
		g.Go(func() (err error) {
			resp.Attending, err = s.data.Attending(ctx, email)
			return err
		})
		if err := g.Wait(); err != nil {
			respondUpstreamError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// handleFeed はキャッシュ済みユーザーのフィードを返すハンドラを返す。
// ユーザーがキャッシュにない場合（プロフィール未取得）は403を返す。
func (s *Server) handleFeed() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := auth.RecordFrom(c)
		if !ok {
			auth.RespondMissingToken(c, s.cfg.StrictStatus)
			return
		}
		ctx := httpclient.WithSubject(c.Request.Context(), rec.Email)

		user, found, err := s.data.CachedUser(ctx, rec.Email)
		if err != nil {
			respondUpstreamError(c, err)
			return
		}
		personID, ok := user.PersonID()
		if !found || !ok {
			c.Status(http.StatusForbidden)
			return
		}

		feed, err := s.data.Feed(ctx, personID)
		if err != nil {
			respondUpstreamError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", feed)
	}
}

// handleHealth はキャッシュへの疎通を含むヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.cache.Ping(c.Request.Context()); err != nil {
			logger.From(c.Request.Context()).Warn("ヘルスチェックでキャッシュに接続できません", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "service": "bff", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "bff"})
	}
}

// respondUpstreamError は上流呼び出しの失敗を500として返す。
func respondUpstreamError(c *gin.Context, err error) {
	logger.From(c.Request.Context()).Error("上流サービスの呼び出しに失敗", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
