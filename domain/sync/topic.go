package sync

import (
	"sort"
	"strings"
)

// MaxTopicsPerItem bounds how many topics a single todo may carry.
const MaxTopicsPerItem = 8

// TopicScore is one classifier's vote for a topic on a given todo.
type TopicScore struct {
	Topic string
	Score float64
}

// Classification is the result of tagging a todo with topics.
type Classification struct {
	Topics  []TopicScore // sorted by Score descending, capped at MaxTopicsPerItem
	Primary string       // highest-scoring topic, empty if none matched
}

// Classifier is a named keyword/heuristic rule: any keyword matching
// content, active form, or file path contributes Weight to Topic's score.
type Classifier struct {
	Topic    string
	Weight   float64
	Keywords []string
}

// defaultClassifiers implements the pluggable keyword + heuristic scoring
// described for topic tagging (bugfix, feature, refactor, deployment, and
// related lifecycle categories). Callers may supply their own set via
// ClassifyWith for project-specific vocabularies.
var defaultClassifiers = []Classifier{
	{Topic: "bugfix", Weight: 1.0, Keywords: []string{"fix", "bug", "crash", "regression", "hotfix", "patch"}},
	{Topic: "feature", Weight: 1.0, Keywords: []string{"add", "implement", "feature", "support", "introduce"}},
	{Topic: "refactor", Weight: 1.0, Keywords: []string{"refactor", "cleanup", "rename", "restructure", "simplify"}},
	{Topic: "deployment", Weight: 1.0, Keywords: []string{"deploy", "release", "rollout", "ci", "pipeline", "infra"}},
	{Topic: "testing", Weight: 0.8, Keywords: []string{"test", "spec", "coverage", "mock"}},
	{Topic: "documentation", Weight: 0.6, Keywords: []string{"doc", "readme", "comment"}},
	{Topic: "performance", Weight: 1.0, Keywords: []string{"perf", "optimi", "latency", "throughput", "slow"}},
	{Topic: "security", Weight: 1.2, Keywords: []string{"secur", "vuln", "cve", "auth", "sanitiz"}},
}

// Classify tags a todo's content, active form, and file path using the
// default classifier set.
func Classify(content, activeForm, filePath string) Classification {
	return ClassifyWith(content, activeForm, filePath, defaultClassifiers)
}

// ClassifyWith runs topic classification with a caller-supplied classifier
// set, so a project can plug in its own vocabulary without touching the
// default scoring table.
func ClassifyWith(content, activeForm, filePath string, classifiers []Classifier) Classification {
	haystack := strings.ToLower(content + " " + activeForm + " " + filePath)

	scores := map[string]float64{}
	for _, c := range classifiers {
		for _, kw := range c.Keywords {
			if strings.Contains(haystack, kw) {
				scores[c.Topic] += c.Weight
			}
		}
	}

	topics := make([]TopicScore, 0, len(scores))
	for topic, score := range scores {
		topics = append(topics, TopicScore{Topic: topic, Score: score})
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Score != topics[j].Score {
			return topics[i].Score > topics[j].Score
		}
		return topics[i].Topic < topics[j].Topic
	})
	if len(topics) > MaxTopicsPerItem {
		topics = topics[:MaxTopicsPerItem]
	}

	primary := ""
	if len(topics) > 0 {
		primary = topics[0].Topic
	}
	return Classification{Topics: topics, Primary: primary}
}
