package uploader

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"clipforge/config"
)

// YouTube publishes videos through the YouTube Data API v3 using a
// refresh-token OAuth client. Credentials come from the environment:
// YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, YOUTUBE_REFRESH_TOKEN.
type YouTube struct {
	cfg *config.Config
}

func NewYouTube(cfg *config.Config) *YouTube {
	return &YouTube{cfg: cfg}
}

func (y *YouTube) Upload(ctx context.Context, filePath string) Result {
	client, err := oauthClient(ctx)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("youtube auth: %v", err)}
	}

	svc, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("youtube service: %v", err)}
	}

	fileName := filepath.Base(filePath)
	title := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: y.cfg.UploadDescription,
			Tags:        ParseTags(y.cfg.UploadTags),
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus: y.cfg.UploadPrivacy,
		},
	}

	f, err := os.Open(filePath)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("open video file: %v", err)}
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil {
		log.Printf("[upload] %s: %.1f MB", fileName, float64(fi.Size())/1024/1024)
	}

	call := svc.Videos.Insert([]string{"snippet", "status"}, video)
	call.Media(f)

	uploaded, err := call.Do()
	if err != nil {
		return Result{Success: false, Message: uploadErrorMessage(err)}
	}

	log.Printf("[upload] %s: https://www.youtube.com/watch?v=%s", fileName, uploaded.Id)
	return Result{Success: true}
}

// uploadErrorMessage maps API quota failures onto the message signature the
// worker's limit detection keys on.
func uploadErrorMessage(err error) string {
	if gerr, ok := err.(*googleapi.Error); ok {
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "dailyLimitExceeded", "quotaExceeded", "uploadLimitExceeded", "rateLimitExceeded":
				return "daily limit reached"
			}
		}
	}
	return err.Error()
}

// ParseTags splits a tag list on whitespace and strips leading '#'.
func ParseTags(raw string) []string {
	fields := strings.Fields(raw)
	tags := make([]string, 0, len(fields))
	for _, field := range fields {
		tag := strings.TrimPrefix(field, "#")
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func oauthClient(ctx context.Context) (*http.Client, error) {
	clientID := os.Getenv("YOUTUBE_CLIENT_ID")
	clientSecret := os.Getenv("YOUTUBE_CLIENT_SECRET")
	refreshToken := os.Getenv("YOUTUBE_REFRESH_TOKEN")

	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET, or YOUTUBE_REFRESH_TOKEN not set")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeUploadScope, youtube.YoutubeScope},
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}

	return conf.Client(ctx, token), nil
}
