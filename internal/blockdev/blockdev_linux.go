//go:build linux

package blockdev

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/walb-linux/walb-tools-pkg/internal/walb"
	"golang.org/x/sys/unix"
)

// BlockDevice is an exclusively-owned writable block device. Regular
// files are accepted too, so the engines can be exercised against plain
// files; they get buffered IO, fstat sizing and punch-hole discards.
type BlockDevice struct {
	file       *os.File
	size       int64
	physicalBs uint32
	isBlockDev bool
}

// Open opens path for writing. Block devices are opened with O_DIRECT
// and interrogated with the BLK* ioctls.
func Open(path string) (*BlockDevice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	isBlockDev := info.Mode()&os.ModeDevice != 0

	flags := os.O_RDWR
	if isBlockDev {
		flags |= unix.O_DIRECT
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	bd := &BlockDevice{file: file, isBlockDev: isBlockDev}
	if isBlockDev {
		size, err := ioctlUint64(file.Fd(), unix.BLKGETSIZE64)
		if err != nil {
			file.Close()
			return nil, NewIoError("BLKGETSIZE64 on %s: %v", path, err)
		}
		pbs, err := ioctlUint32(file.Fd(), unix.BLKPBSZGET)
		if err != nil {
			file.Close()
			return nil, NewIoError("BLKPBSZGET on %s: %v", path, err)
		}
		bd.size = int64(size)
		bd.physicalBs = pbs
	} else {
		bd.size = info.Size()
		bd.physicalBs = walb.LogicalBlockSize
	}
	if !walb.IsValidPbs(bd.physicalBs) {
		file.Close()
		return nil, NewInvalidConfigError("unusable physical block size %d", bd.physicalBs)
	}
	return bd, nil
}

func (bd *BlockDevice) Fd() int                    { return int(bd.file.Fd()) }
func (bd *BlockDevice) Size() int64                { return bd.size }
func (bd *BlockDevice) PhysicalBlockSize() uint32  { return bd.physicalBs }
func (bd *BlockDevice) IsBlockDevice() bool        { return bd.isBlockDev }

// Discard drops the byte range [offset, offset+length). Block devices
// get BLKDISCARD; files get a keep-size punch hole.
func (bd *BlockDevice) Discard(offset, length uint64) error {
	if bd.isBlockDev {
		arg := [2]uint64{offset, length}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, bd.file.Fd(),
			uintptr(unix.BLKDISCARD), uintptr(unsafe.Pointer(&arg[0])))
		if errno != 0 {
			return NewIoError("BLKDISCARD [%d, %d): %v", offset, offset+length, errno)
		}
		return nil
	}
	err := unix.Fallocate(int(bd.file.Fd()),
		unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
		int64(offset), int64(length))
	if err != nil {
		return NewIoError("punch hole [%d, %d): %v", offset, offset+length, err)
	}
	return nil
}

// Fdatasync flushes written data to stable storage.
func (bd *BlockDevice) Fdatasync() error {
	if err := unix.Fdatasync(int(bd.file.Fd())); err != nil {
		return NewIoError("fdatasync: %v", err)
	}
	return nil
}

// ReadAt reads from the device, for verification paths and tests.
func (bd *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	return bd.file.ReadAt(p, off)
}

func (bd *BlockDevice) Close() error {
	return bd.file.Close()
}

func ioctlUint64(fd uintptr, req uint) (uint64, error) {
	var value uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(unsafe.Pointer(&value)))
	if errno != 0 {
		return 0, errno
	}
	return value, nil
}

func ioctlUint32(fd uintptr, req uint) (uint32, error) {
	var value uint32
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(unsafe.Pointer(&value)))
	if errno != 0 {
		return 0, errno
	}
	return value, nil
}
