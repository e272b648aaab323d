package engine

import (
	"github.com/lunehq/skillrunner/internal/store"
)

const (
	KindArticleRequest = "article_request"
	KindSongWish       = "song_wish"
)

// Adapter captures the small amount of behavior that differs between job
// kinds. The engine itself is kind-agnostic.
type Adapter interface {
	// Kind names the job kind; it selects the dispatch queue and runner
	// settings.
	Kind() string
	// Chainable reports whether jobs of this kind form parent chains whose
	// ancestors are handed to the skill as extra context.
	Chainable() bool
	// PayloadParams returns the job-specific parameters serialized into the
	// payload file.
	PayloadParams(job *store.Job) map[string]string
	// EventType names the notification event emitted when a job of this
	// kind reaches done.
	EventType() string
}

// ArticleRequest is the adapter for linked-article ingestion jobs. Article
// requests chain: a follow-up request carries its ancestors as context.
type ArticleRequest struct{}

func (ArticleRequest) Kind() string      { return KindArticleRequest }
func (ArticleRequest) Chainable() bool   { return true }
func (ArticleRequest) EventType() string { return "article_ready" }

func (ArticleRequest) PayloadParams(job *store.Job) map[string]string {
	return map[string]string{
		"url":  job.Params["url"],
		"note": job.Params["note"],
	}
}

// SongWish is the adapter for requested-song jobs.
type SongWish struct{}

func (SongWish) Kind() string      { return KindSongWish }
func (SongWish) Chainable() bool   { return false }
func (SongWish) EventType() string { return "song_ready" }

func (SongWish) PayloadParams(job *store.Job) map[string]string {
	return map[string]string{
		"title":  job.Params["title"],
		"artist": job.Params["artist"],
	}
}
