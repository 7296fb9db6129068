package model

import "time"

// UploadedFile 记录一个已成功入库的文件。
type UploadedFile struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"type:varchar(128);not null;index:idx_owner_session" json:"userId"`
	SessionID  string    `gorm:"type:varchar(64);not null;index:idx_owner_session" json:"sessionId"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	MimeType   string    `gorm:"type:varchar(100)" json:"mimeType"`
	ObjectKey  string    `gorm:"type:varchar(512)" json:"-"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	UploadedAt time.Time `gorm:"not null" json:"uploadedAt"`
}

// TableName 指定表名
func (UploadedFile) TableName() string {
	return "uploaded_files"
}

// ObjectKey 生成上传文件在对象存储中的 key。
func ObjectKey(userID, sessionID, fileName string) string {
	return SessionObjectPrefix(userID, sessionID) + fileName
}

// SessionObjectPrefix 是同一会话下所有文件共享的对象前缀。
func SessionObjectPrefix(userID, sessionID string) string {
	return userID + "/" + sessionID + "/"
}
