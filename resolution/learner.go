package resolution

import (
	"fmt"
	"log/slog"

	"identityserver/database"
)

// Learner turns human review decisions into durable aliases. It is the
// only path by which a below-threshold match becomes a confirmed
// mapping.
type Learner struct {
	store  ReviewStore
	logger *slog.Logger
}

func NewLearner(store ReviewStore) *Learner {
	return &Learner{
		store:  store,
		logger: slog.Default().With("component", "learner"),
	}
}

// Promote confirms a review item against the chosen entity. The store
// deactivates any conflicting active alias, inserts the new one and
// closes the item in a single transaction.
func (l *Learner) Promote(itemID int64, entityID, operator string) (*database.Alias, error) {
	if operator == "" {
		return nil, fmt.Errorf("operator is required")
	}

	alias, err := l.store.PromoteReviewItem(itemID, entityID, operator)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Review item promoted to alias",
		"review_item_id", itemID,
		"entity_id", entityID,
		"alias_text", alias.AliasText,
		"operator", operator)
	return alias, nil
}

// Reject closes a review item with no alias created. The raw text stays
// unresolved and will queue again if it reappears.
func (l *Learner) Reject(itemID int64, operator string) error {
	if operator == "" {
		return fmt.Errorf("operator is required")
	}

	if err := l.store.RejectReviewItem(itemID, operator); err != nil {
		return err
	}

	l.logger.Info("Review item rejected",
		"review_item_id", itemID,
		"operator", operator)
	return nil
}
