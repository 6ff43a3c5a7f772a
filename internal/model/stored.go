package model

// StoredItem is the service-side row of one collection item. Data is the
// item's JSON object; a nil Position sorts after every positioned item.
type StoredItem struct {
	Collection string `gorm:"column:collection;primaryKey;index:idx_items_position,priority:1"`
	ID         string `gorm:"column:id;primaryKey"`
	Data       string `gorm:"column:data_json;not null"`
	Position   *int   `gorm:"column:position;index:idx_items_position,priority:2"`
}

func (StoredItem) TableName() string { return "items" }
