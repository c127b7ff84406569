package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"task-miner/app/logger"

	"github.com/fsnotify/fsnotify"
)

// ChangeHandler 文档变更回调，参数为文档相对路径
type ChangeHandler func(path string)

// Watcher 文档库变更监控器
type Watcher struct {
	store     *FSStore
	recursive bool
	handler   ChangeHandler
	watcher   *fsnotify.Watcher
	logger    *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	watching  bool
	mu        sync.Mutex
}

// NewWatcher 创建新的文档库监控器
func NewWatcher(store *FSStore, recursive bool, handler ChangeHandler, log *logger.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &Watcher{
		store:     store,
		recursive: recursive,
		handler:   handler,
		watcher:   watcher,
		logger:    log,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start 启动文件监控
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return fmt.Errorf("文档库监控器已经在运行")
	}

	// 添加监控目录
	if err := w.addWatchPaths(); err != nil {
		return fmt.Errorf("添加监控路径失败: %w", err)
	}

	w.watching = true
	w.wg.Add(1)

	go w.watchLoop()

	w.logger.Infof("文档库监控器已启动，监控目录: %s", w.store.Root())
	return nil
}

// Stop 停止文件监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}

	close(w.stopCh)
	w.watcher.Close()
	w.wg.Wait()
	w.watching = false

	w.logger.Info("文档库监控器已停止")
	return nil
}

// addWatchPaths 添加监控路径
func (w *Watcher) addWatchPaths() error {
	root := w.store.Root()
	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("添加根监控目录失败: %w", err)
	}

	if !w.recursive {
		return nil
	}

	// 递归添加所有未排除的子目录
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() || path == root {
			return nil
		}
		if w.excluded(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warnf("添加子目录监控失败: %s, 错误: %v", path, err)
		}
		return nil
	})
}

// watchLoop 监控事件循环
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("文档库监控器错误: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

// handleEvent 处理文件系统事件，只关心创建与写入
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// 临时文件在重命名后立即消失，属于正常情况
		w.logger.Debugf("获取文件信息失败: %s, 错误: %v", event.Name, err)
		return
	}

	if info.IsDir() {
		if w.recursive && event.Has(fsnotify.Create) && !w.excluded(event.Name) {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warnf("添加新目录监控失败: %s, 错误: %v", event.Name, err)
			} else {
				w.logger.Debugf("添加新目录监控: %s", event.Name)
			}
		}
		return
	}

	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !w.store.IsDocument(rel) {
		return
	}

	w.handler(rel)
}

func (w *Watcher) excluded(abs string) bool {
	rel, err := filepath.Rel(w.store.Root(), abs)
	if err != nil {
		return true
	}
	return w.store.Excluded(rel)
}
