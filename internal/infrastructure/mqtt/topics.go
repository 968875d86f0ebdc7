package mqtt

import "strings"

// DefaultTopicRoot is used when mqtt.topic_root is empty.
const DefaultTopicRoot = "balancer"

// Topics builds balancer topics under a common root.
//
//	topics := mqtt.NewTopics("balancer")
//	topics.Status("alice")   // "balancer/status/alice"
type Topics struct {
	root string
}

// NewTopics returns topic builders rooted at root, or DefaultTopicRoot when
// root is empty. Trailing slashes are ignored.
func NewTopics(root string) Topics {
	root = strings.TrimRight(root, "/")
	if root == "" {
		root = DefaultTopicRoot
	}
	return Topics{root: root}
}

// Root returns the topic root.
func (t Topics) Root() string {
	return t.root
}

// Status returns the topic carrying username's device status updates.
func (t Topics) Status(username string) string {
	return t.root + "/status/" + username
}

// AllStatuses matches the status topic of every user.
func (t Topics) AllStatuses() string {
	return t.root + "/status/+"
}

// Actions returns the topic carrying balancer actions.
func (t Topics) Actions() string {
	return t.root + "/actions"
}

// Catalogue returns the retained change-marker topic for userID.
func (t Topics) Catalogue(userID string) string {
	return t.root + "/catalogue/" + userID
}

// SystemStatus returns the retained presence topic of the balancer.
func (t Topics) SystemStatus() string {
	return t.root + "/system/status"
}

// ParseStatus extracts the username from a status topic.
// It reports false for any other topic or an empty username.
func (t Topics) ParseStatus(topic string) (string, bool) {
	username, ok := strings.CutPrefix(topic, t.root+"/status/")
	if !ok || username == "" || strings.Contains(username, "/") {
		return "", false
	}
	return username, true
}
