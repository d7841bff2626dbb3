package converter

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/sfmlink/mesh"
	"go.viam.com/sfmlink/pointcloud"
	"go.viam.com/sfmlink/sfm"
	"go.viam.com/sfmlink/trajectory"
	"go.viam.com/sfmlink/visibility"
)

// CameraImporter loads the cameras of a capture.
type CameraImporter interface {
	ImportCameras(ctx context.Context, path string) (*visibility.CameraSet, error)
}

// MeshImporter loads a mesh.
type MeshImporter interface {
	ImportMesh(ctx context.Context, path string) (*mesh.Mesh, error)
}

// MeshExporter writes a mesh.
type MeshExporter interface {
	ExportMesh(ctx context.Context, path string, m *mesh.Mesh) error
}

// SceneExporter writes a scene, or the part of it its format can hold.
type SceneExporter interface {
	ExportScene(ctx context.Context, path string, scene *sfm.Scene) error
}

// TrajectoryImporter imports JSON-lines trajectories, keeping every Step-th frame.
type TrajectoryImporter struct {
	Step int
}

// ImportCameras reads the trajectory and derives its cameras.
func (ti TrajectoryImporter) ImportCameras(ctx context.Context, path string) (*visibility.CameraSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	traj, err := trajectory.ReadFile(path, ti.Step)
	if err != nil {
		return nil, err
	}
	return traj.CameraSet()
}

// MeshFiles reads and writes .ply and .obj meshes.
type MeshFiles struct{}

// ImportMesh reads the mesh at path.
func (MeshFiles) ImportMesh(ctx context.Context, path string) (*mesh.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return mesh.ReadFile(path)
}

// ExportMesh writes the mesh to path.
func (MeshFiles) ExportMesh(ctx context.Context, path string, m *mesh.Mesh) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mesh.WriteFile(path, m)
}

// PointCloudFiles reads .pcd clouds carrying per-point normals as meshes without faces.
type PointCloudFiles struct{}

// ImportMesh reads the cloud at path. Clouds without normal fields are rejected since normals
// cannot be derived without faces.
func (PointCloudFiles) ImportMesh(ctx context.Context, path string) (*mesh.Mesh, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pts, err := pointcloud.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !pts.HasNormals() {
		return nil, errors.Errorf("point cloud %s has no vertex normals", path)
	}
	return &mesh.Mesh{Positions: pts.Positions, Normals: pts.Normals, Colors: pts.Colors}, nil
}

// SceneFiles writes the whole scene as .sfm JSON.
type SceneFiles struct{}

// ExportScene writes the scene to path.
func (SceneFiles) ExportScene(ctx context.Context, path string, scene *sfm.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return sfm.WriteFile(path, scene)
}

// LandmarkCloudFiles writes the scene's landmarks as a .pcd or .las point cloud.
type LandmarkCloudFiles struct{}

// ExportScene writes the landmark cloud to path.
func (LandmarkCloudFiles) ExportScene(ctx context.Context, path string, scene *sfm.Scene) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pc, err := pointcloud.NewFromLandmarks(scene)
	if err != nil {
		return err
	}
	return pointcloud.WriteToFile(pc, path)
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// MeshImporterFor returns the importer for the path's extension. Besides meshes, .pcd clouds
// with normals can be used as vertices.
func MeshImporterFor(path string) (MeshImporter, error) {
	if ext(path) == ".pcd" {
		return PointCloudFiles{}, nil
	}
	if _, err := mesh.FormatFromPath(path); err != nil {
		return nil, err
	}
	return MeshFiles{}, nil
}

// MeshExporterFor returns the exporter for the path's extension.
func MeshExporterFor(path string) (MeshExporter, error) {
	if _, err := mesh.FormatFromPath(path); err != nil {
		return nil, err
	}
	return MeshFiles{}, nil
}

// SceneExporterFor returns the exporter for the path's extension: .sfm and .json get the full
// scene, .pcd and .las the landmark cloud.
func SceneExporterFor(path string) (SceneExporter, error) {
	switch ext(path) {
	case ".sfm", ".json":
		return SceneFiles{}, nil
	case ".pcd", ".las":
		return LandmarkCloudFiles{}, nil
	default:
		return nil, errors.Errorf("no scene exporter for %q", path)
	}
}
