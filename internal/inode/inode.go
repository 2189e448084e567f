// Package inode decodes file-system tree Inode records: the fixed
// 92-byte header plus the trailing extended-field array (document id,
// name, data-stream size, sparse-byte count, device number, and so on),
// per §3.6/§4.6.
package inode

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Inode is a fully decoded Inode record: the fixed header plus whichever
// extended fields were present.
type Inode struct {
	ID     uint64
	Fixed  types.JInodeValT
	Name   string
	DocID  uint32
	HasDocID bool

	Dstream   *types.JDstreamT
	HasDstream bool

	SparseBytes    uint64
	HasSparseBytes bool

	RdevValue uint32
	HasRdev   bool

	FinderInfo []byte
}

// ParseKey decodes a Files-tree JKeyT from the start of a record's raw key
// bytes (every record type shares this 8-byte header).
func ParseKey(raw []byte) (types.JKeyT, error) {
	if len(raw) < 8 {
		return types.JKeyT{}, fmt.Errorf("%w: file-system key too short", apfserrors.ErrCorruptMetadata)
	}
	return types.JKeyT{ObjIdAndType: endian.U64(raw[0:8])}, nil
}

// Decode parses an Inode record's value (everything after the 8-byte
// JKeyT header is handled by the caller; val here is the full value
// blob) into its fixed fields and extended-field walk.
func Decode(objID uint64, val []byte) (*Inode, error) {
	const headerSize = 8*7 + 4 + 4 + 4 + 4 + 4 + 4 + 2 + 2 + 8
	if len(val) < headerSize {
		return nil, fmt.Errorf("%w: inode value too small (%d bytes)", apfserrors.ErrCorruptMetadata, len(val))
	}

	f := types.JInodeValT{}
	f.ParentId = endian.U64(val[0:8])
	f.PrivateId = endian.U64(val[8:16])
	f.CreateTime = endian.U64(val[16:24])
	f.ModTime = endian.U64(val[24:32])
	f.ChangeTime = endian.U64(val[32:40])
	f.AccessTime = endian.U64(val[40:48])
	f.InternalFlags = endian.U64(val[48:56])
	f.NchildrenOrNlink = int32(endian.U32(val[56:60]))
	f.DefaultProtectionClass = endian.U32(val[60:64])
	f.WriteGenerationCounter = endian.U32(val[64:68])
	f.BsdFlags = endian.U32(val[68:72])
	f.Owner = types.UidT(endian.U32(val[72:76]))
	f.Group = types.GidT(endian.U32(val[76:80]))
	f.Mode = types.ModeT(endian.U16(val[80:82]))
	f.Pad1 = endian.U16(val[82:84])
	f.UncompressedSize = endian.U64(val[84:92])

	in := &Inode{ID: objID, Fixed: f}

	if len(val) > headerSize {
		if err := walkExtendedFields(val[headerSize:], in); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// walkExtendedFields parses the trailing XFBlobT: a 4-byte xf_blob header,
// an array of (type, flags, size) descriptors, then the data area those
// descriptors index into, each entry aligned to 8 bytes on disk.
func walkExtendedFields(data []byte, in *Inode) error {
	if len(data) < 4 {
		return fmt.Errorf("%w: inode extended-field blob too small", apfserrors.ErrCorruptMetadata)
	}
	numExts := endian.U16(data[0:2])

	descOff := 4
	dataOff := descOff + int(numExts)*4
	if dataOff > len(data) {
		return fmt.Errorf("%w: inode extended-field descriptor array overruns blob", apfserrors.ErrCorruptMetadata)
	}

	cursor := dataOff
	for i := uint16(0); i < numExts; i++ {
		dOff := descOff + int(i)*4
		xType := data[dOff]
		xSize := int(endian.U16(data[dOff+2 : dOff+4]))

		aligned := (xSize + 7) &^ 7
		if cursor+xSize > len(data) {
			return fmt.Errorf("%w: inode extended-field %d data overruns blob", apfserrors.ErrCorruptMetadata, i)
		}
		fieldData := data[cursor : cursor+xSize]

		switch xType {
		case types.InoExtTypeDocumentId:
			if len(fieldData) >= 4 {
				in.DocID = endian.U32(fieldData[0:4])
				in.HasDocID = true
			}
		case types.InoExtTypeName:
			in.Name = trimNUL(fieldData)
		case types.InoExtTypeDstream:
			if len(fieldData) >= types.JDstreamSize {
				ds := &types.JDstreamT{
					Size:              endian.U64(fieldData[0:8]),
					AllocedSize:       endian.U64(fieldData[8:16]),
					DefaultCryptoId:   endian.U64(fieldData[16:24]),
					TotalBytesWritten: endian.U64(fieldData[24:32]),
					TotalBytesRead:    endian.U64(fieldData[32:40]),
				}
				in.Dstream = ds
				in.HasDstream = true
			}
		case types.InoExtTypeSparseBytes:
			if len(fieldData) >= 8 {
				in.SparseBytes = endian.U64(fieldData[0:8])
				in.HasSparseBytes = true
			}
		case types.InoExtTypeRdev:
			if len(fieldData) >= 4 {
				in.RdevValue = endian.U32(fieldData[0:4])
				in.HasRdev = true
			}
		case types.InoExtTypeFinderInfo:
			in.FinderInfo = append([]byte(nil), fieldData...)
		}

		cursor += aligned
	}
	return nil
}

func trimNUL(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// IsDir reports whether the inode's mode bits mark it a directory.
func (in *Inode) IsDir() bool { return in.Fixed.Mode&types.SIfmt == types.SIfdir }

// IsSymlink reports whether the inode's mode bits mark it a symbolic link.
func (in *Inode) IsSymlink() bool { return in.Fixed.Mode&types.SIfmt == types.SIflnk }

// IsCompressed reports the BSD UF_COMPRESSED flag, the trigger for §4.12
// decompression. The flag is ignored on directories (this always reports
// false for them); on symlinks and other non-directory inodes it is
// honored as stored.
func (in *Inode) IsCompressed() bool {
	return !in.IsDir() && in.Fixed.BsdFlags&types.UfCompressed != 0
}

// Size returns the inode's apparent file size: the dstream's Size field
// for a regular file, UncompressedSize when the inode is compressed and
// has the INODE_HAS_UNCOMPRESSED_SIZE internal flag set, or 0 for a
// directory.
func (in *Inode) Size() uint64 {
	if in.IsCompressed() && in.Fixed.InternalFlags&types.InodeHasUncompressedSize != 0 {
		return in.Fixed.UncompressedSize
	}
	if in.HasDstream {
		return in.Dstream.Size
	}
	return 0
}
