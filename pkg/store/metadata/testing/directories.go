package testing

import (
	"testing"

	"github.com/marmos91/blobspace/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunDirectoryTests executes the directory contract tests.
func (suite *StoreTestSuite) RunDirectoryTests(t *testing.T) {
	t.Run("Create_AssignsID", suite.testCreateDirectoryAssignsID)
	t.Run("Create_DuplicateID", suite.testCreateDirectoryDuplicateID)
	t.Run("Get_NotFound", suite.testGetDirectoryNotFound)
	t.Run("Find_Roots", suite.testFindRootDirectories)
	t.Run("Find_ChildrenByName", suite.testFindChildrenByName)
	t.Run("Find_NamePrefixAndOrder", suite.testFindDirectoriesPrefixAndOrder)
	t.Run("Find_Pagination", suite.testFindDirectoriesPagination)
	t.Run("Count_ExcludesID", suite.testCountDirectoriesExcludeID)
	t.Run("Update_Conditional", suite.testUpdateDirectoriesConditional)
	t.Run("Delete_Idempotent", suite.testDeleteDirectoryIdempotent)
}

func (suite *StoreTestSuite) testCreateDirectoryAssignsID(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))

	got, err := store.GetDirectory(testContext(), root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
	assert.Equal(t, "docs", got.SpaceName)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.True(t, got.IsRoot())
	assert.True(t, got.Committed)
	assert.False(t, got.Deleted)
	assert.True(t, got.CreatedAt.Equal(baseTime))
}

func (suite *StoreTestSuite) testCreateDirectoryDuplicateID(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))

	dup := newRoot("docs", "tenant-b")
	dup.ID = root.ID
	err := store.CreateDirectory(testContext(), dup)
	assert.True(t, metadata.IsAlreadyExists(err), "expected already exists, got %v", err)
}

func (suite *StoreTestSuite) testGetDirectoryNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.GetDirectory(testContext(), metadata.NewID())
	assert.True(t, metadata.IsNotFound(err), "expected not found, got %v", err)
}

func (suite *StoreTestSuite) testFindRootDirectories(t *testing.T) {
	store := suite.NewStore(t)

	rootA := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	mustCreateDirectory(t, store, newRoot("docs", "tenant-b"))
	mustCreateDirectory(t, store, newRoot("images", "tenant-a"))
	mustCreateDirectory(t, store, newChild(rootA, "child"))

	roots, err := store.FindDirectories(testContext(), metadata.DirectoryQuery{
		SpaceName: metadata.Ptr("docs"),
		TenantID:  metadata.Ptr("tenant-a"),
		ParentID:  metadata.Ptr(""),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, rootA.ID, roots[0].ID)
}

func (suite *StoreTestSuite) testFindChildrenByName(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	reports := mustCreateDirectory(t, store, newChild(root, "reports"))
	mustCreateDirectory(t, store, newChild(root, "archive"))

	deleted := newChild(root, "reports")
	deleted.Deleted = true
	mustCreateDirectory(t, store, deleted)

	found, err := store.FindDirectories(testContext(), metadata.DirectoryQuery{
		ParentID:       metadata.Ptr(root.ID),
		NormalizedName: metadata.Ptr("reports"),
		Deleted:        metadata.Ptr(false),
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, reports.ID, found[0].ID)

	count, err := store.CountDirectories(testContext(), metadata.DirectoryQuery{
		ParentID:       metadata.Ptr(root.ID),
		NormalizedName: metadata.Ptr("reports"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func (suite *StoreTestSuite) testFindDirectoriesPrefixAndOrder(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	for _, name := range []string{"beta", "alpha", "alpine", "gamma", "al_x"} {
		mustCreateDirectory(t, store, newChild(root, name))
	}

	found, err := store.FindDirectories(testContext(), metadata.DirectoryQuery{
		ParentID:   metadata.Ptr(root.ID),
		NamePrefix: "alp",
	}, metadata.ListOptions{Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "alpha", found[0].NormalizedName)
	assert.Equal(t, "alpine", found[1].NormalizedName)

	// Wildcard characters in the prefix are literal.
	found, err = store.FindDirectories(testContext(), metadata.DirectoryQuery{
		ParentID:   metadata.Ptr(root.ID),
		NamePrefix: "al_",
	}, metadata.ListOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "al_x", found[0].NormalizedName)
}

func (suite *StoreTestSuite) testFindDirectoriesPagination(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		mustCreateDirectory(t, store, newChild(root, name))
	}

	q := metadata.DirectoryQuery{ParentID: metadata.Ptr(root.ID)}

	page, err := store.FindDirectories(testContext(), q, metadata.ListOptions{Limit: 2, Offset: 1, Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].NormalizedName)
	assert.Equal(t, "c", page[1].NormalizedName)

	page, err = store.FindDirectories(testContext(), q, metadata.ListOptions{Limit: 10, Offset: 4, Order: metadata.OrderByName})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e", page[0].NormalizedName)

	page, err = store.FindDirectories(testContext(), q, metadata.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func (suite *StoreTestSuite) testCountDirectoriesExcludeID(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	first := mustCreateDirectory(t, store, newChild(root, "same"))

	pending := newChild(root, "same")
	pending.Committed = false
	mustCreateDirectory(t, store, pending)

	count, err := store.CountDirectories(testContext(), metadata.DirectoryQuery{
		ParentID:       metadata.Ptr(root.ID),
		NormalizedName: metadata.Ptr("same"),
		ExcludeID:      first.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func (suite *StoreTestSuite) testUpdateDirectoriesConditional(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))
	dir := mustCreateDirectory(t, store, newChild(root, "old"))

	// Compare-and-set on the current name succeeds once.
	changed, err := store.UpdateDirectories(testContext(), metadata.DirectoryQuery{
		ID:             metadata.Ptr(dir.ID),
		NormalizedName: metadata.Ptr("old"),
	}, metadata.DirectoryPatch{
		Name:           metadata.Ptr("New"),
		NormalizedName: metadata.Ptr("new"),
		Renamed:        metadata.Ptr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = store.UpdateDirectories(testContext(), metadata.DirectoryQuery{
		ID:             metadata.Ptr(dir.ID),
		NormalizedName: metadata.Ptr("old"),
	}, metadata.DirectoryPatch{Deleted: metadata.Ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	got, err := store.GetDirectory(testContext(), dir.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, "new", got.NormalizedName)
	assert.True(t, got.Renamed)
	assert.False(t, got.Deleted)
	assert.Equal(t, root.ID, got.ParentID)
}

func (suite *StoreTestSuite) testDeleteDirectoryIdempotent(t *testing.T) {
	store := suite.NewStore(t)

	root := mustCreateDirectory(t, store, newRoot("docs", "tenant-a"))

	require.NoError(t, store.DeleteDirectory(testContext(), root.ID))
	require.NoError(t, store.DeleteDirectory(testContext(), root.ID))

	_, err := store.GetDirectory(testContext(), root.ID)
	assert.True(t, metadata.IsNotFound(err))
}
