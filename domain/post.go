// Package domain holds the entities served by the lab runner.
package domain

import (
	"context"
	"time"

	"github.com/goomon/persistlab"
)

// Post is a blog post with its comments.
type Post struct {
	ID        int64                       `db:"id,pk,identity" json:"id"`
	Title     string                      `db:"title" json:"title"`
	CreatedOn time.Time                   `db:"created_on" json:"created_on"`
	Comments  persistlab.Bag[PostComment] `orm:"oneToMany;mappedBy:Post;cascade:all;orphanRemoval" json:"-"`
}

func (*Post) TableName() string { return "post" }

func (*Post) CacheConcurrency() persistlab.CacheConcurrency {
	return persistlab.CacheReadWrite
}

// PrePersist stamps the creation time.
func (p *Post) PrePersist(context.Context) error {
	if p.CreatedOn.IsZero() {
		p.CreatedOn = time.Now().UTC()
	}
	return nil
}

// PostComment belongs to a Post.
type PostComment struct {
	ID     int64                `db:"id,pk,identity" json:"id"`
	Review string               `db:"review" json:"review"`
	Post   persistlab.Ref[Post] `orm:"manyToOne;fk:post_id;fetch:lazy" json:"-"`
}

func (*PostComment) TableName() string { return "post_comment" }

// Entities lists every entity of the runner's persistence unit.
func Entities() []interface{} {
	return []interface{}{&Post{}, &PostComment{}}
}
