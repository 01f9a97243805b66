package notify

import (
	"context"
)

const (
	RouteHome        = "home"
	RouteStoryPrefix = "story/"

	ActionViewStory = "view_story"
	ActionOpenHome  = "open_home"

	OriginReplay = "replay"
	OriginPush   = "push"

	DefaultTitle = "Story Sync"
	DefaultBody  = "You have a new notification."
	DefaultIcon  = "/icons/icon-192x192.png"
	DefaultBadge = "/icons/badge-72x72.png"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is the single display contract for both the replay and the
// push origin.
type Notification struct {
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Icon        string         `json:"icon,omitempty"`
	Badge       string         `json:"badge,omitempty"`
	Tag         string         `json:"tag,omitempty"`
	Actions     []Action       `json:"actions,omitempty"`
	TargetRoute string         `json:"targetRoute"`
	Origin      string         `json:"origin"`
	Extra       map[string]any `json:"extra,omitempty"`
}

type Displayer interface {
	Display(ctx context.Context, n Notification) error
}

type Navigator interface {
	Navigate(ctx context.Context, route string) error
}

func StoryRoute(id string) string {
	return RouteStoryPrefix + id
}

func defaultActions() []Action {
	return []Action{
		{Action: ActionViewStory, Title: "View story"},
		{Action: ActionOpenHome, Title: "Open home"},
	}
}
