// Package storage persists uploaded and generated audio on the local
// filesystem and bootstraps the directories the HTTP file endpoints serve
// from.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultUploadDir  = "uploads/audio"
	defaultReplyDir   = "reply_audio"
	defaultEmotionDir = "emotion_img"
)

// FileStore owns the audio directories: client uploads, synthesized
// replies, and the fixed per-emotion avatar images.
type FileStore struct {
	uploadDir  string
	replyDir   string
	emotionDir string
	logger     *zap.Logger
}

// Config holds the directory layout. Empty fields fall back to the
// defaults relative to the working directory.
type Config struct {
	UploadDir  string
	ReplyDir   string
	EmotionDir string
}

// ConfigFromEnv reads the directory layout from the environment.
func ConfigFromEnv() Config {
	return Config{
		UploadDir:  os.Getenv("UPLOAD_DIR"),
		ReplyDir:   os.Getenv("REPLY_AUDIO_DIR"),
		EmotionDir: os.Getenv("EMOTION_IMG_DIR"),
	}
}

// NewFileStore creates the store and its directories.
func NewFileStore(config Config, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		uploadDir:  config.UploadDir,
		replyDir:   config.ReplyDir,
		emotionDir: config.EmotionDir,
		logger:     logger,
	}
	if s.uploadDir == "" {
		s.uploadDir = defaultUploadDir
	}
	if s.replyDir == "" {
		s.replyDir = defaultReplyDir
	}
	if s.emotionDir == "" {
		s.emotionDir = defaultEmotionDir
	}

	for _, dir := range []string{s.uploadDir, s.replyDir, s.emotionDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	logger.Info("File store initialized",
		zap.String("uploadDir", s.uploadDir),
		zap.String("replyDir", s.replyDir),
		zap.String("emotionDir", s.emotionDir))

	return s, nil
}

// SaveUpload writes a client audio upload under a generated unique name
// and returns the filename and full path.
func (s *FileStore) SaveUpload(data []byte, extension string) (string, string, error) {
	filename := uniqueName("voice", extension)
	path := filepath.Join(s.uploadDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("save upload: %w", err)
	}

	s.logger.Info("Audio upload saved",
		zap.String("filename", filename),
		zap.Int("size", len(data)))

	return filename, path, nil
}

// SaveReply writes a synthesized audio clip under a generated unique name.
func (s *FileStore) SaveReply(data []byte) (string, string, error) {
	filename := uniqueName("reply", "mp3")
	path := filepath.Join(s.replyDir, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("save reply audio: %w", err)
	}

	s.logger.Info("Reply audio saved",
		zap.String("filename", filename),
		zap.Int("size", len(data)))

	return filename, path, nil
}

// LookupAudio resolves a served filename against the reply directory
// first, then the upload directory. The name is flattened to its base to
// keep requests inside the store.
func (s *FileStore) LookupAudio(filename string) (string, bool) {
	name := filepath.Base(filename)
	for _, dir := range []string{s.replyDir, s.uploadDir} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LookupEmotionImage resolves an avatar image filename.
func (s *FileStore) LookupEmotionImage(filename string) (string, bool) {
	path := filepath.Join(s.emotionDir, filepath.Base(filename))
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "", false
}

func uniqueName(prefix, extension string) string {
	timestamp := time.Now().Format("20060102_150405")
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s_%s.%s", prefix, timestamp, suffix, extension)
}
