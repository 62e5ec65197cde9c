// Package extract pulls the human written text out of GitHub event payloads
package extract

import (
	"encoding/json"
	"strings"

	"ghdiscover/internal/adapters/ingest/gharchive"
)

// Fragment is one piece of text from an event, tagged with where it came from
type Fragment struct {
	Source string // e.g. issues:title, push:commit
	Text   string
}

type comment struct {
	Body string `json:"body"`
}

type titled struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// payload models only the text bearing parts of the event types we know about
type payload struct {
	Commits []struct {
		Message string `json:"message"`
	} `json:"commits"`
	Issue       titled  `json:"issue"`
	PullRequest titled  `json:"pull_request"`
	Comment     comment `json:"comment"`
	Release     struct {
		Name string `json:"name"`
		Body string `json:"body"`
	} `json:"release"`
}

// Fragments returns the non-blank text fragments of env in payload order.
// Unknown event types and undecodable payloads yield nothing
func Fragments(env gharchive.EventEnvelope) []Fragment {
	if len(env.Payload) == 0 {
		return nil
	}
	var p payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil
	}

	var out []Fragment
	add := func(source, txt string) {
		if t := strings.TrimSpace(txt); t != "" {
			out = append(out, Fragment{Source: source, Text: t})
		}
	}

	switch env.Type {
	case "PushEvent":
		for _, c := range p.Commits {
			add("push:commit", c.Message)
		}
	case "IssuesEvent":
		add("issues:title", p.Issue.Title)
		add("issues:body", p.Issue.Body)
	case "IssueCommentEvent":
		add("issue_comment:body", p.Comment.Body)
	case "PullRequestEvent":
		add("pr:title", p.PullRequest.Title)
		add("pr:body", p.PullRequest.Body)
	case "PullRequestReviewCommentEvent":
		add("pr_review_comment:body", p.Comment.Body)
	case "CommitCommentEvent":
		add("commit_comment:body", p.Comment.Body)
	case "ReleaseEvent":
		add("release:name", p.Release.Name)
		add("release:body", p.Release.Body)
	}
	return out
}
