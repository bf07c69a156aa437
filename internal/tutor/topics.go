package tutor

import (
	"context"

	"github.com/ashureev/tutorhub/internal/domain"
	"github.com/ashureev/tutorhub/internal/store"
)

// ListTopics returns the children of parentID, or root topics when it is
// empty, with usage statistics.
func (s *Service) ListTopics(ctx context.Context, parentID string, skip, limit int) ([]*domain.TopicView, error) {
	if err := validatePage(skip, limit); err != nil {
		return nil, err
	}
	return s.repo.ListTopicViews(ctx, store.TopicFilter{ParentID: parentID, Skip: skip, Limit: limit})
}

// GetTopic returns one topic with usage statistics.
func (s *Service) GetTopic(ctx context.Context, topicID string) (*domain.TopicView, error) {
	view, err := s.repo.GetTopicView(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, &domain.NotFoundError{Resource: "topic", ID: topicID}
	}
	return view, nil
}

// TopicTree returns the topic and all its descendants.
func (s *Service) TopicTree(ctx context.Context, topicID string) (*domain.TopicNode, error) {
	topics, err := s.repo.ListTopics(ctx)
	if err != nil {
		return nil, err
	}
	root := BuildTree(topics, topicID)
	if root == nil {
		return nil, &domain.NotFoundError{Resource: "topic", ID: topicID}
	}
	return root, nil
}

// BuildTree assembles the subtree rooted at rootID from a flat topic list.
// It walks an explicit worklist, so deep hierarchies cannot exhaust the
// stack, and visits each topic once even if parent links form a cycle.
func BuildTree(topics []*domain.Topic, rootID string) *domain.TopicNode {
	children := make(map[string][]*domain.Topic)
	var rootTopic *domain.Topic
	for _, t := range topics {
		if t.ID == rootID {
			rootTopic = t
		}
		if t.ParentID != "" {
			children[t.ParentID] = append(children[t.ParentID], t)
		}
	}
	if rootTopic == nil {
		return nil
	}

	root := &domain.TopicNode{Topic: *rootTopic, Subtopics: []*domain.TopicNode{}}
	seen := map[string]bool{rootID: true}
	work := []*domain.TopicNode{root}
	for len(work) > 0 {
		node := work[len(work)-1]
		work = work[:len(work)-1]

		for _, child := range children[node.ID] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			n := &domain.TopicNode{Topic: *child, Subtopics: []*domain.TopicNode{}}
			node.Subtopics = append(node.Subtopics, n)
			work = append(work, n)
		}
	}
	return root
}
