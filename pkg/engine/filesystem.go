package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// PathLiteral is a path that may or may not exist in the project tree.
type PathLiteral struct {
	Path string
}

// Path is a path known to exist in the project tree.
type Path struct {
	Path string
}

func (p PathLiteral) String() string { return p.Path }
func (p Path) String() string        { return p.Path }

// Paths is the result of checking a PathLiteral: empty when it does not exist.
type Paths struct {
	Dependencies []Path
}

// FileContent is the content of a file.
type FileContent struct {
	Path    string
	Content []byte
}

// DirectoryListing lists the entries of a directory.
type DirectoryListing struct {
	Directory Path
	Exists    bool
	Paths     []Path
}

// ProjectTree is the read-only view of the source tree that filesystem nodes
// operate on. Paths are slash separated and relative to the tree root.
type ProjectTree interface {
	Lstat(relPath string) (fs.FileInfo, error)
	ReadFile(relPath string) ([]byte, error)
	ReadDir(relPath string) ([]fs.DirEntry, error)
}

var (
	pathsProduct            = ProductOf[Paths]()
	fileContentProduct      = ProductOf[FileContent]()
	directoryListingProduct = ProductOf[DirectoryListing]()
	pathLiteralProduct      = ProductOf[PathLiteral]()
	pathProduct             = ProductOf[Path]()
)

// filesystemInputs maps each filesystem product to the product it is computed from.
var filesystemInputs = map[Product]Product{
	pathsProduct:            pathLiteralProduct,
	fileContentProduct:      pathProduct,
	directoryListingProduct: pathProduct,
}

// IsFilesystemProduct reports whether p is produced natively by FilesystemNode.
func IsFilesystemProduct(p Product) bool {
	_, ok := filesystemInputs[p]
	return ok
}

// FilesystemNode performs a native filesystem operation. Its state is never
// memoized: it is recomputed every time it is stepped, though its inputs may be.
type FilesystemNode struct {
	subject  any
	product  Product
	variants Variants
}

// NewFilesystemNode creates a FilesystemNode for one of the filesystem products.
func NewFilesystemNode(subject any, product Product, variants Variants) FilesystemNode {
	return FilesystemNode{subject: subject, product: product, variants: variants}
}

func (n FilesystemNode) Subject() any       { return n.subject }
func (n FilesystemNode) Product() Product   { return n.product }
func (n FilesystemNode) Variants() Variants { return n.variants }
func (n FilesystemNode) Cacheable() bool    { return false }
func (n FilesystemNode) Kind() NodeKind     { return NodeKindFilesystem }
func (FilesystemNode) isNode()              {}

func (n FilesystemNode) String() string {
	return formatNode("Filesystem", n.subject, n.product, n.variants)
}

func (n FilesystemNode) inputNode() Node {
	return SelectNode{subject: n.subject, product: filesystemInputs[n.product], variants: n.variants}
}

// Step implements Node.
func (n FilesystemNode) Step(deps DependencyStates, sc *StepContext) State {
	if !IsFilesystemProduct(n.product) {
		return Throw{Err: NewInvalidRuleError(fmt.Sprintf("%s is not a filesystem product", n.product), nil).WithNode(n)}
	}
	inputNode := n.inputNode()
	var input any
	switch s := waitingOrState(deps, inputNode).(type) {
	case nil:
		return Waiting{Dependencies: []Node{inputNode}}
	case Throw:
		return s
	case Noop:
		return Noopf("could not compute %s in order to make filesystem request", inputNode)
	case Return:
		input = s.Value
	default:
		return unrecognizedState(n, s)
	}

	tree := sc.ProjectTree()
	if tree == nil {
		return Throw{Err: NewFilesystemError("no project tree configured", nil).WithNode(n)}
	}

	var (
		value any
		err   error
	)
	switch in := input.(type) {
	case PathLiteral:
		if n.product == pathsProduct {
			value, err = PathExists(tree, in)
		}
	case Path:
		switch n.product {
		case fileContentProduct:
			value, err = ReadFileContent(tree, in)
		case directoryListingProduct:
			value, err = ListDirectory(tree, in)
		}
	}
	if err != nil {
		fsErr := NewFilesystemError(fmt.Sprintf("%s failed", n.product.Name()), err).WithNode(n)
		if errors.Is(err, ErrSymlink) {
			fsErr.WithCode(ErrCodeSymlink)
		}
		return Throw{Err: fsErr}
	}
	if value == nil {
		return Throw{Err: NewInvalidRuleError(fmt.Sprintf("mismatched input value %v", input), nil).WithNode(n)}
	}
	return Return{Value: value}
}

// ErrSymlink is returned when a filesystem primitive encounters a symlink.
var ErrSymlink = errors.New("symlinks are not supported")

func lstatRegular(tree ProjectTree, p string) (fs.FileInfo, error) {
	info, err := tree.Lstat(p)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", p, ErrSymlink)
	}
	return info, nil
}

// PathExists checks a path literal, returning the path when it exists.
func PathExists(tree ProjectTree, literal PathLiteral) (Paths, error) {
	_, err := lstatRegular(tree, literal.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Paths{}, nil
	}
	if err != nil {
		return Paths{}, err
	}
	return Paths{Dependencies: []Path{{Path: literal.Path}}}, nil
}

// ReadFileContent reads a file.
func ReadFileContent(tree ProjectTree, p Path) (FileContent, error) {
	info, err := lstatRegular(tree, p.Path)
	if err != nil {
		return FileContent{}, err
	}
	if info.IsDir() {
		return FileContent{}, fmt.Errorf("%s is a directory", p.Path)
	}
	content, err := tree.ReadFile(p.Path)
	if err != nil {
		return FileContent{}, err
	}
	return FileContent{Path: p.Path, Content: content}, nil
}

// ListDirectory lists a directory. A missing directory lists as empty with
// Exists set to false; symlinked entries are rejected.
func ListDirectory(tree ProjectTree, dir Path) (DirectoryListing, error) {
	info, err := lstatRegular(tree, dir.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return DirectoryListing{Directory: dir}, nil
	}
	if err != nil {
		return DirectoryListing{}, err
	}
	if !info.IsDir() {
		return DirectoryListing{}, fmt.Errorf("%s is not a directory", dir.Path)
	}
	entries, err := tree.ReadDir(dir.Path)
	if err != nil {
		return DirectoryListing{}, err
	}
	listing := DirectoryListing{Directory: dir, Exists: true}
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink != 0 {
			return DirectoryListing{}, fmt.Errorf("%s: %w", path.Join(dir.Path, e.Name()), ErrSymlink)
		}
		listing.Paths = append(listing.Paths, Path{Path: path.Join(dir.Path, e.Name())})
	}
	sort.Slice(listing.Paths, func(i, j int) bool { return listing.Paths[i].Path < listing.Paths[j].Path })
	return listing, nil
}
