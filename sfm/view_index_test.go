package sfm

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestCameraIndexFromPath(t *testing.T) {
	for path, expected := range map[string]int{
		"/capture/frames/0.jpg":  0,
		"42.png":                 42,
		"rel/dir/0017.exr":       17,
		"/no/extension/5":        5,
		"C:/frames/capture/9.jp": 9,
	} {
		idx, err := CameraIndexFromPath(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, idx, test.ShouldEqual, expected)
	}
	for _, path := range []string{"frame_3.jpg", "-3.jpg", "+3.jpg", "3a.jpg", ".jpg", "/frames/"} {
		_, err := CameraIndexFromPath(path)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestViewIndexFromImagePaths(t *testing.T) {
	views := map[IndexT]*View{
		10: {ViewID: 10, ImagePath: "/f/2.jpg"},
		11: {ViewID: 11, ImagePath: "/f/0.jpg"},
		12: {ViewID: 12, ImagePath: "/f/cover.jpg"},
		13: {ViewID: 13, ImagePath: "/f/1.jpg"},
		14: {ViewID: 14, ImagePath: "/other/2.jpg"},
	}
	index, failures := ViewIndexFromImagePaths(views)
	test.That(t, index.Len(), test.ShouldEqual, 3)
	test.That(t, index.Cameras(), test.ShouldResemble, []int{0, 1, 2})

	id, ok := index.ViewID(2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, id, test.ShouldEqual, IndexT(10))
	id, ok = index.ViewID(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, id, test.ShouldEqual, IndexT(11))
	_, ok = index.ViewID(3)
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, failures, test.ShouldHaveLength, 2)
	test.That(t, failures[0].ViewID, test.ShouldEqual, IndexT(12))
	test.That(t, failures[1].ViewID, test.ShouldEqual, IndexT(14))
	test.That(t, failures[1].Error(), test.ShouldContainSubstring, "already used by view 10")

	var parseErr *ViewIndexParseError
	var err error = failures[0]
	test.That(t, errors.As(err, &parseErr), test.ShouldBeTrue)
	test.That(t, parseErr.ImagePath, test.ShouldEqual, "/f/cover.jpg")
}

func TestNewViewIndex(t *testing.T) {
	index, err := NewViewIndex(map[int]IndexT{0: 100, 1: 101, 5: 105})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, index.Cameras(), test.ShouldResemble, []int{0, 1, 5})
	id, ok := index.ViewID(5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, id, test.ShouldEqual, IndexT(105))

	_, err = NewViewIndex(map[int]IndexT{-1: 100})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "negative camera index")

	_, err = NewViewIndex(map[int]IndexT{0: 100, 3: 100})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "view 100 is mapped from cameras 0 and 3")

	_, err = NewViewIndex(map[int]IndexT{0: UndefinedIndexT})
	test.That(t, err, test.ShouldNotBeNil)
}
