package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	// rw-r--r--
	FileModeDefault fs.FileMode = 0644
	// rwxr-xr-x
	DirMode fs.FileMode = 0755
)

// WAL 以 JSON Lines 格式追加寫入的日誌檔，每筆紀錄寫入後立即 fsync
type WAL struct {
	file *os.File
	mu   sync.Mutex
}

// NewWAL 開啟或建立 WAL 檔案 (必要時建立上層目錄)
//
// 參數:
//
//	path: 檔案路徑
//
// 回傳:
//
//	*WAL: WAL 實例
//	error: 開檔失敗
func NewWAL(path string) (*WAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModeDefault)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &WAL{file: file}, nil
}

// Append 寫入一筆紀錄並刷入硬碟；回傳 nil 代表紀錄已持久化
func (w *WAL) Append(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode wal record: %w", err)
	}
	raw = append(raw, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(raw); err != nil {
		return fmt.Errorf("write wal record: %w", err)
	}
	return w.file.Sync()
}

// Replay 由頭依序讀出所有紀錄
//
// 檔尾若有寫到一半的紀錄 (寫入途中崩潰) 會被忽略，該筆紀錄從未被確認持久化。
func (w *WAL) Replay(fn func(raw json.RawMessage) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	decoder := json.NewDecoder(w.file)
	for {
		var raw json.RawMessage
		err := decoder.Decode(&raw)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read wal record: %w", err)
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}
