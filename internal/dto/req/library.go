package req

type AddressPayload struct {
	Line1    string `json:"line1"`
	City     string `json:"city"`
	Postcode string `json:"postcode"`
}

type CreateAuthorRequest struct {
	Name        string          `json:"name" binding:"required"`
	HomeAddress *AddressPayload `json:"home_address"`
}

type UpdateAuthorRequest struct {
	Name        *string         `json:"name"`
	HomeAddress *AddressPayload `json:"home_address"`
}

type CreateBookRequest struct {
	AuthorID  uint   `json:"author_id" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Published bool   `json:"published"`
	Fiction   bool   `json:"fiction"`
}

// UpdateBookRequest is a partial update; nil fields are left unchanged.
// LockVersion, when set, must match the stored lock version.
type UpdateBookRequest struct {
	AuthorID    *uint   `json:"author_id"`
	Title       *string `json:"title"`
	Published   *bool   `json:"published"`
	Fiction     *bool   `json:"fiction"`
	ViewCount   *int    `json:"view_count"`
	SyncCount   *int    `json:"sync_count"`
	LockVersion *int    `json:"lock_version"`
}

type IDUri struct {
	ID uint `uri:"id" binding:"required"`
}

type HistoryUri struct {
	Entity string `uri:"entity" binding:"required"`
	ID     uint   `uri:"id" binding:"required"`
}
