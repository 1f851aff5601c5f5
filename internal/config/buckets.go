package config

import (
	"fmt"

	"github.com/markdave123-py/kbsync/internal/models"
)

// BucketKind names a logical object-storage bucket.
type BucketKind string

const (
	BucketKnowledgeBase BucketKind = "knowledge-base"
	BucketQuestionnaire BucketKind = "questionnaire"
	BucketAttachments   BucketKind = "attachments"
	BucketOrgAssets     BucketKind = "org-assets"
)

var bucketKinds = map[models.SourceType]BucketKind{
	models.SourceTypeKnowledgeBaseDocument: BucketKnowledgeBase,
	models.SourceTypePolicy:                BucketAttachments,
	models.SourceTypeManualAnswer:          BucketQuestionnaire,
	models.SourceTypeContext:               BucketOrgAssets,
}

// KindFor returns the bucket kind that holds files of the given source type.
func KindFor(t models.SourceType) (BucketKind, bool) {
	k, ok := bucketKinds[t]
	return k, ok
}

// Name returns the configured bucket name for a kind.
func (b Buckets) Name(kind BucketKind) string {
	switch kind {
	case BucketKnowledgeBase:
		return b.KnowledgeBase
	case BucketQuestionnaire:
		return b.Questionnaire
	case BucketAttachments:
		return b.Attachments
	case BucketOrgAssets:
		return b.OrgAssets
	}
	return ""
}

// BucketFor resolves the bucket name for a source type.
func (b Buckets) BucketFor(t models.SourceType) (string, error) {
	kind, ok := KindFor(t)
	if !ok {
		return "", fmt.Errorf("no bucket kind for source type %q", t)
	}
	name := b.Name(kind)
	if name == "" {
		return "", fmt.Errorf("bucket %q is not configured", kind)
	}
	return name, nil
}
